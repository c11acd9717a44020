package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/core/affinity"
	"github.com/lwa-project/bifrost/ring"
)

// batchLimit bounds packets processed by one Recv when no slot commits.
const batchLimit = 64

// source is one packet input path (UDP socket, sniffer, disk, ...).
type source interface {
	// recv reads one packet into buf, waiting at most timeout.
	// Timeouts surface as errTimeout; end of input as io.EOF.
	recv(buf []byte, timeout time.Duration) (n int, e error)
	io.Closer
}

// seekableSource additionally supports disk-style repositioning.
type seekableSource interface {
	source
	seek(offset int64, whence int) (pos int64, e error)
	tell() (int64, error)
}

var errTimeout = fmt.Errorf("packet wait: %w", bfstatus.ErrTimeout)

// Engine drives one packet input into a ring.
// All methods must be called from a single capture thread; Counters is safe
// from any thread.
type Engine struct {
	cfg    Config
	format Format
	src    source
	w      *ring.Writer

	buf   []byte
	front *slot
	back  *slot

	started  bool
	rejected bool // current epoch rejected by callback
	curDesc  PacketDesc
	frame    int // FrameBytes of current epoch
	seq      *ring.WriteSequence
	seqStart int64 // first slot index of current sequence
	nseq     int

	ended  bool
	closed bool
	fatal  error

	cntLock sync.Mutex
	cnt     Counters
}

func newEngine(src source, cfg Config) (*Engine, error) {
	if e := cfg.applyDefaults(); e != nil {
		src.Close()
		return nil, e
	}
	f, e := GetFormat(cfg.Format)
	if e != nil {
		src.Close()
		return nil, e
	}
	w, e := cfg.Ring.BeginWriting()
	if e != nil {
		src.Close()
		return nil, fmt.Errorf("capture ring writer: %w", e)
	}
	eng := &Engine{
		cfg:    cfg,
		format: f,
		src:    src,
		w:      w,
		buf:    make([]byte, f.PacketSize(cfg.MaxPayloadSize)),
	}
	logger.Info("capture created",
		zap.String("format", cfg.Format),
		zap.String("ring", cfg.Ring.Name()),
		zap.Int("nsrc", cfg.Nsrc),
		zap.Int("bufferNtime", cfg.BufferNtime),
		zap.Int("slotNtime", cfg.SlotNtime))
	return eng, nil
}

// Recv runs one capture iteration: it ingests packets until a slot commits,
// a sequence boundary passes, the input ends, the timeout expires, or
// batchLimit packets have been processed.
func (eng *Engine) Recv() (Status, error) {
	if eng.fatal != nil {
		return StatusError, eng.fatal
	}
	if eng.ended {
		return StatusEnded, nil
	}

	var progressed, committed, started, changed bool
	for npkt := 0; npkt < batchLimit && !committed && !changed; npkt++ {
		n, e := eng.src.recv(eng.buf, eng.cfg.Timeout)
		switch {
		case e == nil:
		case errors.Is(e, bfstatus.ErrTimeout):
			switch {
			case started:
				return StatusStarted, nil
			case changed:
				return StatusChanged, nil
			case progressed:
				return StatusContinued, nil
			default:
				return StatusNoData, nil
			}
		case errors.Is(e, io.EOF):
			if e := eng.finish(); e != nil {
				return eng.fail(e)
			}
			return StatusEnded, nil
		default:
			return eng.fail(fmt.Errorf("packet read: %w", e))
		}

		st, ch, cm, e := eng.process(eng.buf[:n])
		if e != nil {
			if bfstatus.KindOf(e) == bfstatus.KindInterrupted {
				return StatusInterrupted, e
			}
			return eng.fail(e)
		}
		progressed = true
		started = started || st
		changed = changed || ch
		committed = committed || cm
	}

	switch {
	case started:
		return StatusStarted, nil
	case changed:
		return StatusChanged, nil
	case progressed:
		return StatusContinued, nil
	default:
		return StatusNoData, nil
	}
}

// process decodes and places one packet.
func (eng *Engine) process(pkt []byte) (started, changed, committed bool, e error) {
	desc, payload, ok := eng.format.Decode(pkt)
	if !ok {
		eng.count(func(c *Counters) { c.NReceived++; c.NRejected++ })
		return false, false, false, nil
	}
	rel := desc.Src - eng.cfg.Src0
	bad := rel < 0 || rel >= eng.cfg.Nsrc ||
		desc.Ntime <= 0 || eng.cfg.BufferNtime%desc.Ntime != 0 || desc.Seq%uint64(desc.Ntime) != 0
	if bad {
		eng.count(func(c *Counters) { c.NReceived++; c.NRejected++ })
		return false, false, false, nil
	}
	eng.count(func(c *Counters) { c.NReceived++ })

	structural := !eng.started || !desc.sameStructure(&eng.curDesc)
	ts := int64(desc.Seq) / int64(eng.cfg.BufferNtime)
	slotsPerSeq := int64(eng.cfg.SlotNtime / eng.cfg.BufferNtime)

	if structural {
		if e := eng.flush(); e != nil {
			return false, false, false, e
		}
		started = !eng.started
		changed = eng.started
		eng.curDesc = desc
		eng.frame = eng.format.FrameBytes(&desc)
		eng.started = true
		if e := eng.changeSequence(ts); e != nil {
			return false, false, false, e
		}
		eng.resetSlots(ts)
	} else if ts > eng.back.idx+slotsPerSeq {
		// discontinuity (e.g. after a seek): do not backfill the gap
		if e := eng.flush(); e != nil {
			return false, false, false, e
		}
		changed = true
		if e := eng.changeSequence(ts); e != nil {
			return false, false, false, e
		}
		eng.resetSlots(ts)
	}

	if eng.rejected {
		eng.count(func(c *Counters) { c.NRejected++ })
		return false, false, false, nil
	}

	// slot advancement
	for eng.back.idx < ts {
		ch, e := eng.rotate()
		if e != nil {
			return started, changed, committed, e
		}
		changed = changed || ch
		committed = true
	}
	if ts < eng.front.idx {
		eng.count(func(c *Counters) { c.NLate++ })
		return started, changed, committed, nil
	}

	s := eng.front
	if ts == eng.back.idx {
		s = eng.back
	}
	if s.scatter(eng, &desc, payload) {
		eng.count(func(c *Counters) { c.NGood++ })
	} else {
		eng.count(func(c *Counters) { c.NDuplicate++ })
	}
	return started, changed, committed, nil
}

// commitWithBoundary commits one slot, first switching sequences when the
// slot crosses a slot_ntime boundary.
func (eng *Engine) commitWithBoundary(s *slot) (changed bool, e error) {
	slotsPerSeq := int64(eng.cfg.SlotNtime / eng.cfg.BufferNtime)
	if s.idx-eng.seqStart >= slotsPerSeq {
		if e := eng.changeSequence(s.idx); e != nil {
			return false, e
		}
		changed = true
	}
	if eng.rejected {
		return changed, nil
	}
	return changed, eng.commitSlot(s)
}

// rotate commits the front slot, shifts back to front, and opens a fresh
// back slot.
func (eng *Engine) rotate() (changed bool, e error) {
	changed, e = eng.commitWithBoundary(eng.front)
	if e != nil {
		return changed, e
	}
	eng.front, eng.back = eng.back, eng.front
	eng.back.reset(eng.front.idx + 1)
	return changed, nil
}

// changeSequence ends the current ring sequence and begins the next at the
// given slot index, running the header-synthesis callback.
func (eng *Engine) changeSequence(slotIdx int64) error {
	if eng.seq != nil {
		if e := eng.seq.End(); e != nil {
			return e
		}
		eng.seq = nil
	}
	eng.seqStart = slotIdx

	change := &SequenceChange{
		TimeOffset: uint64(slotIdx) * uint64(eng.cfg.BufferNtime),
		Chan0:      eng.curDesc.Chan0,
		Nchan:      eng.curDesc.Nchan,
		Nsrc:       eng.cfg.Nsrc,
		Nbit:       eng.curDesc.Nbit,
		Complex:    eng.curDesc.Complex,
	}
	timeTag, hdr, e := eng.cfg.OnSequenceChange(change)
	if e != nil {
		eng.rejected = true
		eng.count(func(c *Counters) { c.NSeqRejected++ })
		logger.Warn("sequence rejected by callback", zap.Uint64("timeOffset", change.TimeOffset), zap.Error(e))
		return nil
	}
	eng.rejected = false

	if e := eng.ensureRing(); e != nil {
		return e
	}
	seq, e := eng.w.BeginSequence(ring.SequenceConfig{
		Name:    fmt.Sprintf("%s-%d", eng.cfg.SequenceName, eng.nseq),
		TimeTag: timeTag,
		Header:  hdr,
	})
	if e != nil {
		return e
	}
	eng.seq = seq
	eng.nseq++
	eng.count(func(c *Counters) { c.NSequences++ })
	return nil
}

// ensureRing sizes the ring for the current epoch's slot geometry.
func (eng *Engine) ensureRing() error {
	slotBytes := int64(eng.cfg.BufferNtime) * int64(eng.cfg.Nsrc) * int64(eng.frame)
	r := eng.cfg.Ring
	if r.ContiguousSpan() >= slotBytes && r.Capacity() >= 2*slotBytes {
		return nil
	}
	return r.Resize(slotBytes, 4*slotBytes, 1)
}

func (eng *Engine) slotBytes() int {
	return eng.cfg.BufferNtime * eng.cfg.Nsrc * eng.frame
}

func (eng *Engine) resetSlots(ts int64) {
	n := eng.slotBytes()
	nbits := eng.cfg.BufferNtime * eng.cfg.Nsrc
	if eng.front == nil || len(eng.front.data) != n {
		eng.front = newSlot(n, nbits)
		eng.back = newSlot(n, nbits)
	}
	eng.front.reset(ts)
	eng.back.reset(ts + 1)
}

// commitSlot reserves one slot's worth of ring bytes, copies the slot in
// (gaps stay zero-filled), and commits.
func (eng *Engine) commitSlot(s *slot) error {
	if eng.seq == nil {
		return fmt.Errorf("commit without sequence: %w", bfstatus.ErrInvalidState)
	}
	ws, e := eng.w.Reserve(len(s.data), false)
	if e != nil {
		return e
	}
	copy(ws.Data(), s.data)
	if e := ws.Commit(len(s.data)); e != nil {
		return e
	}
	eng.count(func(c *Counters) {
		c.NSlotsCommitted++
		c.NBytesCommitted += uint64(len(s.data))
		c.NFramesGood += uint64(s.ngood)
		c.NFramesMissing += uint64(s.nframes - s.ngood)
	})
	return nil
}

// Flush commits the pending slots without closing the sequence. The back slot
// is committed only when it holds packets.
func (eng *Engine) Flush() error {
	if !eng.started || eng.rejected {
		return nil
	}
	return eng.flushSlots()
}

// flush commits pending slots; used internally before sequence boundaries.
func (eng *Engine) flush() error {
	if !eng.started || eng.rejected || eng.seq == nil {
		return nil
	}
	return eng.flushSlots()
}

func (eng *Engine) flushSlots() error {
	if eng.front == nil {
		return nil
	}
	last := eng.front.idx
	if eng.front.ngood > 0 || eng.back.ngood > 0 {
		if _, e := eng.commitWithBoundary(eng.front); e != nil {
			return e
		}
	}
	if eng.back.ngood > 0 {
		if _, e := eng.commitWithBoundary(eng.back); e != nil {
			return e
		}
		last = eng.back.idx
	}
	eng.front.reset(last + 1)
	eng.back.reset(last + 2)
	return nil
}

// finish flushes and closes out the stream at end of input.
func (eng *Engine) finish() error {
	if e := eng.flush(); e != nil {
		return e
	}
	if eng.seq != nil {
		if e := eng.seq.End(); e != nil {
			return e
		}
		eng.seq = nil
	}
	eng.ended = true
	return nil
}

// End marks the capture finished: it flushes pending slots and ends the open
// sequence, and the next Recv reports ENDED.
func (eng *Engine) End() error {
	return eng.finish()
}

// Seek repositions a disk reader onto a packet boundary.
// Offsets inside a packet fail with INVALID_ARGUMENT.
func (eng *Engine) Seek(offset int64, whence int) (pos int64, e error) {
	s, ok := eng.src.(seekableSource)
	if !ok {
		return 0, fmt.Errorf("seek on non-disk capture: %w", bfstatus.ErrUnsupported)
	}
	if e := eng.flush(); e != nil {
		return 0, e
	}
	return s.seek(offset, whence)
}

// Tell returns a disk reader's current byte position.
func (eng *Engine) Tell() (int64, error) {
	s, ok := eng.src.(seekableSource)
	if !ok {
		return 0, fmt.Errorf("tell on non-disk capture: %w", bfstatus.ErrUnsupported)
	}
	return s.tell()
}

// Run loops Recv on the calling goroutine, pinned to the configured core,
// until stop is closed or the capture ends or fails.
func (eng *Engine) Run(stop <-chan struct{}) error {
	core := -1
	if eng.cfg.PinCore {
		core = eng.cfg.Core
	}
	restore, e := affinity.Pin(core)
	if e != nil {
		return e
	}
	defer restore()

	for {
		select {
		case <-stop:
			return nil
		default:
		}
		st, e := eng.Recv()
		switch st {
		case StatusEnded:
			return nil
		case StatusError:
			return e
		case StatusInterrupted:
			return e
		}
	}
}

// Close releases the writer token and the packet source.
func (eng *Engine) Close() error {
	if eng.closed {
		return nil
	}
	eng.closed = true
	var errs error
	if !eng.ended {
		errs = multierr.Append(errs, eng.finish())
	}
	errs = multierr.Append(errs, eng.w.Close())
	errs = multierr.Append(errs, eng.src.Close())
	return errs
}

func (eng *Engine) fail(e error) (Status, error) {
	eng.fatal = e
	logger.Error("capture failed", zap.Error(e))
	return StatusError, e
}

func (eng *Engine) count(f func(*Counters)) {
	eng.cntLock.Lock()
	defer eng.cntLock.Unlock()
	f(&eng.cnt)
}

// Counters returns a snapshot of capture statistics.
func (eng *Engine) Counters() Counters {
	eng.cntLock.Lock()
	defer eng.cntLock.Unlock()
	return eng.cnt
}
