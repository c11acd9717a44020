package ring_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/core/testenv"
	"github.com/lwa-project/bifrost/memory"
	"github.com/lwa-project/bifrost/ring"
)

func mustRing(t *testing.T, name string, contiguous, total int64) *ring.Ring {
	t.Helper()
	r := ring.New(name, memory.SpaceSystem)
	if e := r.Resize(contiguous, total, 1); e != nil {
		t.Fatalf("resize: %v", e)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeSpans(t *testing.T, w *ring.Writer, sizes []int, fill func(i int, b []byte)) {
	t.Helper()
	for i, n := range sizes {
		ws, e := w.Reserve(n, false)
		if e != nil {
			t.Errorf("reserve %d: %v", i, e)
			return
		}
		fill(i, ws.Data())
		if e := ws.Commit(n); e != nil {
			t.Errorf("commit %d: %v", i, e)
			return
		}
	}
}

func TestRoundTrip(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "roundtrip", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()

	_, e = w.BeginSequence(ring.SequenceConfig{Name: "seq0", TimeTag: 1})
	require.NoError(e)

	const nspans = 20
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sizes := make([]int, nspans)
		for i := range sizes {
			sizes[i] = 1024
		}
		writeSpans(t, w, sizes, func(i int, b []byte) {
			v := byte((i * 31) % 256)
			for j := range b {
				b[j] = v
			}
		})
	}()

	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)
	for i := 0; i < nspans; i++ {
		sp, e := rs.Acquire(1024, 5*time.Second)
		require.NoError(e, "span %d", i)
		assert.Equal(1024, sp.Size())
		v := byte((i * 31) % 256)
		for _, b := range sp.Data() {
			if b != v {
				t.Fatalf("span %d: got %d want %d", i, b, v)
			}
		}
		require.NoError(sp.Release())
	}
	wg.Wait()
	require.NoError(w.EndSequence())
	require.NoError(w.Close())
}

func TestSingleWriter(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "singlewriter", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)

	_, e = r.BeginWriting()
	assert.Equal(bfstatus.KindInvalidState, bfstatus.KindOf(e))

	require.NoError(w.Close())
	w2, e := r.BeginWriting()
	require.NoError(e)
	require.NoError(w2.Close())
}

func TestOpportunisticRead(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "opportunistic", 1024, 8192)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(false)
	require.NoError(e)
	defer rd.Close()

	payload := make([]byte, 1024)
	testenv.RandBytes(payload)
	ws, e := w.Reserve(1024, false)
	require.NoError(e)
	copy(ws.Data(), payload)
	require.NoError(ws.Commit(1024))

	time.Sleep(100 * time.Millisecond)
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)
	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)
	assert.Equal(1024, sp.Size())
	assert.False(sp.Overrun())
	testenv.BytesEqual(assert, payload, sp.Data())
	require.NoError(sp.Release())
	require.NoError(w.EndSequence())
}

func TestOverrunSnap(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "overrun", 1024, 2048)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(false)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	writeSpans(t, w, []int{1024, 1024, 1024, 1024}, func(i int, b []byte) {
		for j := range b {
			b[j] = byte(i)
		}
	})

	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)
	assert.True(sp.Overrun())
	assert.EqualValues(2048, sp.SizeOverwritten())
	assert.EqualValues(2048, sp.Offset())
	assert.Equal(1024, sp.Size())
	assert.Equal(bytes.Repeat([]byte{2}, 1024), sp.Data())
	require.NoError(sp.Release())
	require.NoError(w.EndSequence())
}

func TestWriterBackpressure(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "backpressure", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	writeSpans(t, w, []int{1024, 1024, 1024, 1024}, func(i int, b []byte) {})

	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)

	// ring full, reader holding the oldest span: nonblocking reserve refuses
	_, e = w.Reserve(1024, true)
	assert.Equal(bfstatus.KindWouldBlock, bfstatus.KindOf(e))

	unblocked := make(chan error, 1)
	go func() {
		ws, e := w.Reserve(1024, false)
		if e == nil {
			e = ws.Commit(1024)
		}
		unblocked <- e
	}()

	select {
	case e := <-unblocked:
		t.Fatalf("reserve should have blocked, returned %v", e)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(sp.Release())
	select {
	case e := <-unblocked:
		require.NoError(e)
	case <-time.After(time.Second):
		t.Fatal("reserve still blocked after release")
	}
	require.NoError(w.EndSequence())
}

func TestSequenceEndTruncates(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "seqend", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	seq, e := w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	writeSpans(t, w, []int{512}, func(i int, b []byte) {
		for j := range b {
			b[j] = 7
		}
	})
	require.NoError(seq.End())

	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)
	assert.Equal(512, sp.Size())
	require.NoError(sp.Release())

	_, e = rs.Acquire(1024, time.Second)
	assert.Equal(bfstatus.KindEndOfData, bfstatus.KindOf(e))
}

func TestInterrupt(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "interrupt", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	acquired := make(chan error, 1)
	go func() {
		_, e := rs.Acquire(1024, ring.Forever)
		acquired <- e
	}()
	time.Sleep(50 * time.Millisecond)
	r.Interrupt()
	select {
	case e := <-acquired:
		assert.Equal(bfstatus.KindInterrupted, bfstatus.KindOf(e))
	case <-time.After(time.Second):
		t.Fatal("interrupt did not wake reader")
	}

	// ring resumes: state is unchanged
	writeSpans(t, w, []int{1024}, func(i int, b []byte) { b[0] = 42 })
	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)
	assert.EqualValues(0, sp.Offset())
	assert.EqualValues(42, sp.Data()[0])
	require.NoError(sp.Release())
	require.NoError(w.EndSequence())
}

func TestResizeRules(t *testing.T) {
	assert, require := makeAR(t)
	r := ring.New("resize", memory.SpaceSystem)
	defer r.Close()

	require.NoError(r.Resize(1024, 4096, 1))
	require.NoError(r.Resize(2048, 8192, 1)) // still unwritten: ok
	assert.EqualValues(8192, r.Capacity())

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)
	writeSpans(t, w, []int{512}, func(i int, b []byte) {})

	e = r.Resize(1024, 4096, 1)
	assert.Equal(bfstatus.KindInvalidState, bfstatus.KindOf(e))
	require.NoError(w.EndSequence())
}

func TestReserveBounds(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "bounds", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	ws, e := w.Reserve(1024, false)
	require.NoError(e)
	require.NoError(ws.Commit(1024))

	_, e = w.Reserve(1025, false)
	assert.Equal(bfstatus.KindInvalidArgument, bfstatus.KindOf(e))
	require.NoError(w.EndSequence())
}

func TestTwoGuaranteedReaders(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "tworeaders", 512, 2048)

	w, e := r.BeginWriting()
	require.NoError(e)
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	const nspans = 16
	expect := make([]byte, nspans*512)
	testenv.RandBytes(expect)

	read := func(rd *ring.Reader, slow bool) ([]byte, error) {
		defer rd.Close()
		rs, e := rd.OpenSequenceEarliest(ring.Forever)
		if e != nil {
			return nil, e
		}
		var got []byte
		for i := 0; i < nspans; i++ {
			if slow && i%4 == 0 {
				time.Sleep(10 * time.Millisecond)
			}
			sp, e := rs.Acquire(512, 5*time.Second)
			if e != nil {
				return nil, e
			}
			got = append(got, sp.Data()...)
			if e := sp.Release(); e != nil {
				return nil, e
			}
		}
		return got, nil
	}

	rdFast, e := r.OpenReader(true)
	require.NoError(e)
	rdSlow, e := r.OpenReader(true)
	require.NoError(e)

	type result struct {
		b []byte
		e error
	}
	results := make(chan result, 2)
	go func() {
		b, e := read(rdFast, false)
		results <- result{b, e}
	}()
	go func() {
		b, e := read(rdSlow, true)
		results <- result{b, e}
	}()

	sizes := make([]int, nspans)
	for i := range sizes {
		sizes[i] = 512
	}
	writeSpans(t, w, sizes, func(i int, b []byte) {
		copy(b, expect[i*512:(i+1)*512])
	})

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(res.e)
		testenv.BytesEqual(assert, expect, res.b)
	}
	require.NoError(w.EndSequence())
	require.NoError(w.Close())
}

func TestWrapContiguity(t *testing.T) {
	assert, require := makeAR(t)
	// spans of 3000 against a 8192-byte ring cross the physical wrap
	r := mustRing(t, "wrap", 3000, 8192)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	const nspans = 8
	expect := make([][]byte, nspans)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < nspans; i++ {
			ws, e := w.Reserve(3000, false)
			if e != nil {
				t.Errorf("reserve %d: %v", i, e)
				return
			}
			b := make([]byte, 3000)
			testenv.RandBytes(b)
			expect[i] = b
			copy(ws.Data(), b)
			if e := ws.Commit(3000); e != nil {
				t.Errorf("commit %d: %v", i, e)
				return
			}
		}
	}()

	for i := 0; i < nspans; i++ {
		sp, e := rs.Acquire(3000, 5*time.Second)
		require.NoError(e, "span %d", i)
		require.Equal(3000, sp.Size())
		testenv.BytesEqual(assert, expect[i], sp.Data(), "span %d", i)
		require.NoError(sp.Release())
	}
	<-done
	require.NoError(w.EndSequence())
}

func TestRinglets(t *testing.T) {
	assert, require := makeAR(t)
	// four ringlets; 768-byte spans straddle the 2048-byte per-ringlet wrap
	r := ring.New("ringlets", memory.SpaceSystem)
	require.NoError(r.Resize(768, 2048, 4))
	t.Cleanup(func() { r.Close() })
	assert.Equal(4, r.NRinglets())
	assert.EqualValues(2048, r.Capacity())

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	const (
		nspans    = 6
		spanSize  = 768
		nringlets = 4
	)
	expect := make([][][]byte, nspans)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < nspans; i++ {
			ws, e := w.Reserve(spanSize, false)
			if e != nil {
				t.Errorf("reserve %d: %v", i, e)
				return
			}
			rows := make([][]byte, nringlets)
			for row := 0; row < nringlets; row++ {
				b := make([]byte, spanSize)
				testenv.RandBytes(b)
				copy(ws.Row(row), b)
				rows[row] = b
			}
			expect[i] = rows
			if e := ws.Commit(spanSize); e != nil {
				t.Errorf("commit %d: %v", i, e)
				return
			}
		}
	}()

	for i := 0; i < nspans; i++ {
		sp, e := rs.Acquire(spanSize, 5*time.Second)
		require.NoError(e, "span %d", i)
		require.Equal(spanSize, sp.Size())
		for row := 0; row < nringlets; row++ {
			testenv.BytesEqual(assert, expect[i][row], sp.Row(row), "span %d row %d", i, row)
		}
		require.NoError(sp.Release())
	}
	<-done
	require.NoError(w.EndSequence())
}

func TestAcquireTimeout(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "timeout", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	_, e = rs.Acquire(1024, 0)
	assert.Equal(bfstatus.KindWouldBlock, bfstatus.KindOf(e))

	start := time.Now()
	_, e = rs.Acquire(1024, 50*time.Millisecond)
	assert.Equal(bfstatus.KindTimeout, bfstatus.KindOf(e))
	assert.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
	require.NoError(w.EndSequence())
}

func TestSequenceIteration(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "seqiter", 1024, 8192)

	var opened, openedB []string
	closer := r.OnSequenceOpen(func(name string, timeTag uint64) {
		opened = append(opened, name)
	})
	defer closer.Close()
	closerB := r.OnSequenceOpen(func(name string, timeTag uint64) {
		openedB = append(openedB, name)
	})

	w, e := r.BeginWriting()
	require.NoError(e)
	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()

	for i, name := range []string{"s0", "s1", "s2"} {
		if i == 2 {
			// a closed listener stops receiving sequence-open events
			require.NoError(closerB.Close())
		}
		_, e := w.BeginSequence(ring.SequenceConfig{
			Name:    name,
			TimeTag: uint64(100 * (i + 1)),
			Header:  []byte(`{"seq":"` + name + `"}`),
		})
		require.NoError(e)
		writeSpans(t, w, []int{1024}, func(_ int, b []byte) { b[0] = byte(i) })
	}
	require.NoError(w.Close())

	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)
	names, tags := []string{}, []uint64{}
	for {
		names = append(names, rs.Name())
		tags = append(tags, rs.TimeTag())
		assert.JSONEq(`{"seq":"`+rs.Name()+`"}`, string(rs.Header()))
		next, e := rs.Next(time.Second)
		if e != nil {
			assert.Equal(bfstatus.KindEndOfData, bfstatus.KindOf(e))
			break
		}
		rs = next
	}
	assert.Equal([]string{"s0", "s1", "s2"}, names)
	assert.Equal([]uint64{100, 200, 300}, tags)
	assert.Equal([]string{"s0", "s1", "s2"}, opened)
	assert.Equal([]string{"s0", "s1"}, openedB)
}

func TestOpenSequenceByNameAndAt(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "seqopen", 1024, 8192)

	w, e := r.BeginWriting()
	require.NoError(e)
	for i, name := range []string{"s0", "s1"} {
		_, e := w.BeginSequence(ring.SequenceConfig{Name: name, TimeTag: uint64(1000 * (i + 1))})
		require.NoError(e)
		writeSpans(t, w, []int{1024}, func(int, []byte) {})
	}
	require.NoError(w.Close())

	rd, e := r.OpenReader(false)
	require.NoError(e)
	defer rd.Close()

	rs, e := rd.OpenSequenceByName("s1", 0)
	require.NoError(e)
	assert.EqualValues(2000, rs.TimeTag())
	require.NoError(rs.Close())

	rs, e = rd.OpenSequenceAt(1500, 0)
	require.NoError(e)
	assert.Equal("s0", rs.Name())
	require.NoError(rs.Close())

	_, e = rd.OpenSequenceByName("nope", 0)
	assert.Equal(bfstatus.KindWouldBlock, bfstatus.KindOf(e))
}

func TestSetGuaranteed(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "guarantee", 1024, 2048)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()
	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	require.NoError(e)

	writeSpans(t, w, []int{1024, 1024}, func(int, []byte) {})
	_, e = w.Reserve(1024, true)
	assert.Equal(bfstatus.KindWouldBlock, bfstatus.KindOf(e))

	// dropping the guarantee mid-flight releases the writer
	rd.SetGuaranteed(false)
	writeSpans(t, w, []int{1024}, func(int, []byte) {})

	// re-acquiring snaps the cursor forward instead of stalling the writer
	// retroactively; the window is full until the reader catches up
	rd.SetGuaranteed(true)
	_, e = w.Reserve(1024, true)
	assert.Equal(bfstatus.KindWouldBlock, bfstatus.KindOf(e))

	sp, e := rs.Acquire(1024, time.Second)
	require.NoError(e)
	assert.EqualValues(1024, sp.Offset())
	require.NoError(sp.Release())

	ws, e := w.Reserve(1024, true)
	require.NoError(e)
	require.NoError(ws.Commit(1024))
	require.NoError(w.EndSequence())
}

func TestCounters(t *testing.T) {
	assert, require := makeAR(t)
	r := mustRing(t, "counters", 1024, 4096)

	w, e := r.BeginWriting()
	require.NoError(e)
	defer w.Close()
	_, e = w.BeginSequence(ring.SequenceConfig{Name: "a", TimeTag: 0})
	require.NoError(e)
	writeSpans(t, w, []int{1024, 1024}, func(int, []byte) {})

	rd, e := r.OpenReader(true)
	require.NoError(e)
	defer rd.Close()

	assert.Equal(-1, r.Affinity())
	r.SetAffinity(2)
	assert.Equal(2, r.Affinity())

	cnt := r.Counters()
	assert.Equal("counters", cnt.Name)
	assert.Equal("system", cnt.Space)
	assert.EqualValues(4096, cnt.Capacity)
	assert.EqualValues(2048, cnt.Head)
	assert.Equal(1, cnt.NSequences)
	require.Len(cnt.Readers, 1)
	assert.NotEmpty(cnt.String())
	require.NoError(w.EndSequence())
}

func TestClosedRing(t *testing.T) {
	assert, require := makeAR(t)
	r := ring.New("closed", memory.SpaceSystem)
	require.NoError(r.Resize(256, 1024, 1))
	require.NoError(r.Close())

	_, e := r.BeginWriting()
	assert.Equal(bfstatus.KindInvalidState, bfstatus.KindOf(e))
	_, e = r.OpenReader(true)
	assert.Equal(bfstatus.KindInvalidState, bfstatus.KindOf(e))
	assert.True(errors.Is(r.Resize(256, 1024, 1), bfstatus.ErrInvalidState))
}
