package ring

import (
	"fmt"
	"time"

	"github.com/pkg/math"

	"github.com/lwa-project/bifrost/bfstatus"
)

// Reader is one consumer of a ring. A guaranteed reader participates in
// backpressure: the writer blocks rather than overrun it. An opportunistic
// reader may be lapped; it observes OVERRUN and skips forward.
type Reader struct {
	r          *Ring
	guaranteed bool
	pos        int64
	cur        *ReadSequence
	held       []*ReadSpan
	closed     bool
}

// OpenReader attaches a reader to the ring at the writer's current frontier.
func (r *Ring) OpenReader(guaranteed bool) (*Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("ring %q closed: %w", r.name, bfstatus.ErrInvalidState)
	}
	rd := &Reader{r: r, guaranteed: guaranteed, pos: r.commitHead}
	r.readers[rd] = struct{}{}
	return rd, nil
}

// Guaranteed reports whether the reader participates in backpressure.
func (rd *Reader) Guaranteed() bool { return rd.guaranteed }

// SetGuaranteed changes the reader's guarantee participation. Re-acquiring
// the guarantee snaps the cursor forward so the writer is not stalled
// retroactively.
func (rd *Reader) SetGuaranteed(guaranteed bool) {
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if guaranteed && !rd.guaranteed {
		rd.pos = math.MaxInt64(rd.pos, r.tail())
		if rd.cur != nil {
			rd.cur.offset = math.MaxInt64(rd.cur.offset, r.tail())
		}
	}
	rd.guaranteed = guaranteed
	r.bcastSpace()
}

// guardPos is the oldest byte this reader may still need. Guarded by mu.
func (rd *Reader) guardPos() int64 {
	if len(rd.held) > 0 {
		return rd.held[0].offset
	}
	if rd.cur != nil {
		return rd.cur.offset
	}
	return rd.pos
}

// Close detaches the reader, releasing any held spans and sequence.
func (rd *Reader) Close() error {
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.closed {
		return nil
	}
	rd.closed = true
	for _, sp := range rd.held {
		sp.released = true
	}
	rd.held = nil
	if rd.cur != nil {
		rd.cur.s.refs--
		rd.cur = nil
	}
	delete(r.readers, rd)
	r.pruneSequences()
	r.bcastSpace()
	return nil
}

// ReadSequence is a reader's view of one sequence.
type ReadSequence struct {
	rd     *Reader
	s      *sequence
	offset int64
}

func (rd *Reader) attachLocked(s *sequence) *ReadSequence {
	if rd.cur != nil {
		rd.cur.s.refs--
	}
	s.refs++
	start := math.MaxInt64(s.begin, rd.r.tail())
	rs := &ReadSequence{rd: rd, s: s, offset: start}
	rd.cur = rs
	rd.pos = math.MaxInt64(rd.pos, start)
	rd.r.bcastSpace()
	return rs
}

func (rd *Reader) openSequence(timeout time.Duration, pick func() *sequence) (*ReadSequence, error) {
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.closed {
		return nil, fmt.Errorf("reader closed: %w", bfstatus.ErrInvalidState)
	}
	if rd.cur != nil {
		return nil, fmt.Errorf("reader already has an open sequence: %w", bfstatus.ErrInvalidState)
	}
	var s *sequence
	e := r.waitCond(func() chan struct{} { return r.dataCh }, timeout, func() bool {
		s = pick()
		return s != nil
	})
	if e != nil {
		return nil, fmt.Errorf("open sequence: %w", e)
	}
	return rd.attachLocked(s), nil
}

// OpenSequenceLatest opens the most recently begun sequence, waiting for one
// to exist. Reading starts at the sequence's begin offset (or the ring's tail,
// if that has been overwritten), not at the writer's commit cursor.
func (rd *Reader) OpenSequenceLatest(timeout time.Duration) (*ReadSequence, error) {
	return rd.openSequence(timeout, func() *sequence {
		if n := len(rd.r.seqs); n > 0 {
			return rd.r.seqs[n-1]
		}
		return nil
	})
}

// OpenSequenceEarliest opens the oldest live sequence, waiting for one to
// exist.
func (rd *Reader) OpenSequenceEarliest(timeout time.Duration) (*ReadSequence, error) {
	return rd.openSequence(timeout, func() *sequence {
		if len(rd.r.seqs) > 0 {
			return rd.r.seqs[0]
		}
		return nil
	})
}

// OpenSequenceByName opens the live sequence with the given name.
func (rd *Reader) OpenSequenceByName(name string, timeout time.Duration) (*ReadSequence, error) {
	return rd.openSequence(timeout, func() *sequence {
		for _, s := range rd.r.seqs {
			if s.name == name {
				return s
			}
		}
		return nil
	})
}

// OpenSequenceAt opens the sequence covering the given time tag: the one with
// the greatest time tag not exceeding it.
func (rd *Reader) OpenSequenceAt(timeTag uint64, timeout time.Duration) (*ReadSequence, error) {
	return rd.openSequence(timeout, func() (best *sequence) {
		for _, s := range rd.r.seqs {
			if s.timeTag <= timeTag {
				best = s
			}
		}
		return best
	})
}

// ID returns the sequence id.
func (rs *ReadSequence) ID() uint64 { return rs.s.id }

// Name returns the sequence name.
func (rs *ReadSequence) Name() string { return rs.s.name }

// TimeTag returns the sequence time tag.
func (rs *ReadSequence) TimeTag() uint64 { return rs.s.timeTag }

// Header returns the sequence header bytes.
func (rs *ReadSequence) Header() []byte { return rs.s.header }

// Next moves to the sequence the writer created after this one, waiting for
// it to appear. When the writer has closed and no further sequence exists,
// Next fails with END_OF_DATA.
func (rs *ReadSequence) Next(timeout time.Duration) (*ReadSequence, error) {
	rd := rs.rd
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.closed || rd.cur != rs {
		return nil, fmt.Errorf("stale sequence handle: %w", bfstatus.ErrInvalidState)
	}
	var next *sequence
	e := r.waitCond(func() chan struct{} { return r.dataCh }, timeout, func() bool {
		for _, s := range r.seqs {
			if s.id > rs.s.id {
				next = s
				return true
			}
		}
		return !r.writing
	})
	if e != nil {
		return nil, fmt.Errorf("next sequence: %w", e)
	}
	if next == nil {
		return nil, fmt.Errorf("writer closed: %w", bfstatus.ErrEndOfData)
	}
	return rd.attachLocked(next), nil
}

// Close releases the reader's reference on the sequence.
func (rs *ReadSequence) Close() error {
	rd := rs.rd
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.cur != rs {
		return nil
	}
	rd.pos = math.MaxInt64(rd.pos, rs.offset)
	rs.s.refs--
	rd.cur = nil
	r.pruneSequences()
	r.bcastSpace()
	return nil
}

// Acquire returns the next n committed bytes of the sequence. It blocks until
// the writer commits that much, or returns a short span when the sequence
// ends first; the acquire after the final bytes fails with END_OF_DATA. An
// opportunistic reader that has been lapped gets a span flagged with the
// overwritten size, its cursor snapped forward past the lap.
func (rs *ReadSequence) Acquire(n int, timeout time.Duration) (*ReadSpan, error) {
	rd := rs.rd
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.closed || rd.cur != rs || rs.s.expired {
		return nil, fmt.Errorf("stale sequence handle: %w", bfstatus.ErrInvalidState)
	}
	if n <= 0 || int64(n) > r.contiguous {
		return nil, fmt.Errorf("acquire %d (contiguous span %d): %w", n, r.contiguous, bfstatus.ErrInvalidArgument)
	}

	var overwritten int64
	snap := func() {
		if tail := r.writeHead - r.capacity; !rd.guaranteed && tail > rs.offset {
			overwritten += tail - rs.offset
			rs.offset = tail
		}
	}
	snap()
	e := r.waitCond(func() chan struct{} { return r.dataCh }, timeout, func() bool {
		snap()
		if rs.s.end >= 0 {
			return r.commitHead >= math.MinInt64(rs.s.end, rs.offset+int64(n))
		}
		return r.commitHead >= rs.offset+int64(n)
	})
	if e != nil {
		return nil, fmt.Errorf("acquire %d: %w", n, e)
	}

	limit := r.commitHead
	if rs.s.end >= 0 {
		limit = math.MinInt64(limit, rs.s.end)
	}
	size := int(math.MinInt64(int64(n), limit-rs.offset))
	if size <= 0 {
		return nil, fmt.Errorf("sequence %q exhausted: %w", rs.s.name, bfstatus.ErrEndOfData)
	}

	sp := &ReadSpan{rd: rd, offset: rs.offset, size: size, overwritten: overwritten}
	if v := r.st.view(sp.offset, size); v != nil {
		sp.data = v
	} else {
		sp.data = make([]byte, r.nringlets*size)
		for i := 0; i < r.nringlets; i++ {
			if e := r.st.readInto(sp.data[i*size:(i+1)*size], i, sp.offset, size); e != nil {
				return nil, fmt.Errorf("acquire staging: %w", e)
			}
		}
	}
	rs.offset += int64(size)
	rd.held = append(rd.held, sp)
	return sp, nil
}

// ReadSpan is an acquired byte range, valid until released.
type ReadSpan struct {
	rd          *Reader
	offset      int64
	size        int
	data        []byte
	overwritten int64
	released    bool
}

// Offset returns the span's absolute byte offset.
func (sp *ReadSpan) Offset() int64 { return sp.offset }

// Size returns the actual span size; it may be smaller than requested near a
// sequence end.
func (sp *ReadSpan) Size() int { return sp.size }

// Data returns the contiguous bytes of ringlet 0.
func (sp *ReadSpan) Data() []byte { return sp.data[:sp.size] }

// Row returns the contiguous bytes of ringlet i.
func (sp *ReadSpan) Row(i int) []byte {
	if len(sp.data) == sp.size {
		if i != 0 {
			panic("single-ringlet span")
		}
		return sp.data
	}
	return sp.data[i*sp.size : (i+1)*sp.size]
}

// SizeOverwritten returns how many bytes the writer overwrote before this
// span could be acquired. Nonzero only for lapped opportunistic readers.
func (sp *ReadSpan) SizeOverwritten() int64 { return sp.overwritten }

// Overrun reports whether the reader was lapped before this acquire.
func (sp *ReadSpan) Overrun() bool { return sp.overwritten > 0 }

// Release returns the span to the ring, advancing this reader's cursor and
// waking a writer blocked on it.
func (sp *ReadSpan) Release() error {
	rd := sp.rd
	r := rd.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if sp.released {
		return fmt.Errorf("span already released: %w", bfstatus.ErrInvalidState)
	}
	sp.released = true
	for i, held := range rd.held {
		if held == sp {
			rd.held = append(rd.held[:i], rd.held[i+1:]...)
			break
		}
	}
	rd.pos = math.MaxInt64(rd.pos, sp.offset+int64(sp.size))
	r.pruneSequences()
	r.bcastSpace()
	return nil
}
