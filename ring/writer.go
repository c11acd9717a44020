package ring

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lwa-project/bifrost/bfstatus"
)

// Writer is the exclusive writer token of a ring epoch.
type Writer struct {
	r       *Ring
	lastTag uint64
	hasSeq  bool
	closed  bool
}

// SequenceConfig describes a new sequence.
type SequenceConfig struct {
	Name    string
	TimeTag uint64
	Header  []byte
}

// BeginWriting obtains the ring's writer token.
// A second concurrent writer fails with INVALID_STATE.
func (r *Ring) BeginWriting() (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("ring %q closed: %w", r.name, bfstatus.ErrInvalidState)
	}
	if r.writing {
		return nil, fmt.Errorf("ring %q already has a writer: %w", r.name, bfstatus.ErrInvalidState)
	}
	r.writing = true
	return &Writer{r: r}, nil
}

// BeginSequence starts a new sequence at the reservation cursor, ending any
// currently open sequence. Time tags must be non-decreasing within an epoch.
func (w *Writer) BeginSequence(cfg SequenceConfig) (*WriteSequence, error) {
	r := w.r
	r.mu.Lock()
	if w.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("writer closed: %w", bfstatus.ErrInvalidState)
	}
	if w.hasSeq && cfg.TimeTag < w.lastTag {
		r.mu.Unlock()
		return nil, fmt.Errorf("time tag %d regresses below %d: %w", cfg.TimeTag, w.lastTag, bfstatus.ErrInvalidArgument)
	}
	w.lastTag, w.hasSeq = cfg.TimeTag, true
	w.endSequenceLocked()

	hdr := make([]byte, len(cfg.Header))
	copy(hdr, cfg.Header)
	s := &sequence{
		id:      r.nextSeqID,
		name:    cfg.Name,
		timeTag: cfg.TimeTag,
		header:  hdr,
		begin:   r.writeHead,
		end:     -1,
	}
	r.nextSeqID++
	r.seqs = append(r.seqs, s)
	r.curSeq = s
	r.bcastData()
	r.mu.Unlock()

	r.emitter.EmitSync(eventSequenceOpen, cfg.Name, cfg.TimeTag)
	logger.Debug("sequence begin",
		zap.String("ring", r.name), zap.String("seq", cfg.Name), zap.Uint64("timeTag", cfg.TimeTag))
	return &WriteSequence{w: w, s: s}, nil
}

// Reserve returns a span of exactly n contiguous bytes at the reservation
// cursor, blocking while the slowest guaranteed reader would be overrun.
// With nonblocking set it fails with WOULD_BLOCK instead of waiting.
func (w *Writer) Reserve(n int, nonblocking bool) (*WriteSpan, error) {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case w.closed:
		return nil, fmt.Errorf("writer closed: %w", bfstatus.ErrInvalidState)
	case r.st == nil:
		return nil, fmt.Errorf("ring %q has no storage: %w", r.name, bfstatus.ErrInvalidState)
	case r.curSeq == nil:
		return nil, fmt.Errorf("reserve outside a sequence: %w", bfstatus.ErrInvalidState)
	case n <= 0 || int64(n) > r.contiguous:
		return nil, fmt.Errorf("reserve %d (contiguous span %d): %w", n, r.contiguous, bfstatus.ErrInvalidArgument)
	}

	timeout := Forever
	if nonblocking {
		timeout = 0
	}
	e := r.waitCond(func() chan struct{} { return r.spaceCh }, timeout, func() bool {
		return r.writeHead+int64(n)-r.minGuaranteedCursor() <= r.capacity
	})
	if e != nil {
		return nil, fmt.Errorf("reserve %d: %w", n, e)
	}

	ws := &WriteSpan{r: r, seq: r.curSeq, offset: r.writeHead, size: n}
	if v := r.st.view(ws.offset, n); v != nil {
		ws.data = v
	} else {
		ws.staged = true
		ws.data = make([]byte, r.nringlets*n)
	}
	r.writeHead += int64(n)
	r.written = true
	r.pending = append(r.pending, ws)
	return ws, nil
}

// EndSequence closes the currently open sequence.
func (w *Writer) EndSequence() error {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed: %w", bfstatus.ErrInvalidState)
	}
	if r.curSeq == nil {
		return fmt.Errorf("no open sequence: %w", bfstatus.ErrInvalidState)
	}
	w.endSequenceLocked()
	return nil
}

func (w *Writer) endSequenceLocked() {
	r := w.r
	if r.curSeq == nil {
		return
	}
	r.curSeq.end = r.writeHead
	r.curSeq = nil
	r.bcastData()
}

// Close ends any open sequence and releases the writer token. Outstanding
// uncommitted spans must be committed first. The ring may be reopened for a
// new writing epoch; the sequence registry is preserved.
func (w *Writer) Close() error {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.closed {
		return nil
	}
	if len(r.pending) > 0 {
		return fmt.Errorf("%d uncommitted spans: %w", len(r.pending), bfstatus.ErrInvalidState)
	}
	w.endSequenceLocked()
	w.closed = true
	r.writing = false
	r.bcastData()
	return nil
}

// WriteSequence is the writer-side handle of an open sequence.
type WriteSequence struct {
	w *Writer
	s *sequence
}

// Name returns the sequence name.
func (s *WriteSequence) Name() string { return s.s.name }

// TimeTag returns the sequence time tag.
func (s *WriteSequence) TimeTag() uint64 { return s.s.timeTag }

// End closes the sequence. Subsequent reader acquires past the end offset
// observe END_OF_DATA.
func (s *WriteSequence) End() error {
	r := s.w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.curSeq != s.s {
		return fmt.Errorf("sequence already ended: %w", bfstatus.ErrInvalidState)
	}
	s.w.endSequenceLocked()
	return nil
}

// WriteSpan is a reserved byte range awaiting commit.
type WriteSpan struct {
	r      *Ring
	seq    *sequence
	offset int64
	size   int
	data   []byte // direct mirror view, or scratch rows when staged
	staged bool

	committed bool
	commitEnd int64
	done      bool
}

// Offset returns the span's absolute byte offset.
func (ws *WriteSpan) Offset() int64 { return ws.offset }

// Size returns the reserved size in bytes.
func (ws *WriteSpan) Size() int { return ws.size }

// Data returns the contiguous bytes of ringlet 0.
func (ws *WriteSpan) Data() []byte { return ws.data[:ws.size] }

// Row returns the contiguous bytes of ringlet i.
func (ws *WriteSpan) Row(i int) []byte {
	if !ws.staged {
		if i != 0 {
			panic("single-ringlet span")
		}
		return ws.data[:ws.size]
	}
	return ws.data[i*ws.size : (i+1)*ws.size]
}

// Commit marks n bytes of the span readable, advancing the commit cursor once
// all earlier reservations have committed. n may be less than the reserved
// size only on the newest reservation; the surplus returns to the ring.
func (ws *WriteSpan) Commit(n int) error {
	r := ws.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws.done {
		return fmt.Errorf("span already committed: %w", bfstatus.ErrInvalidState)
	}
	if n < 0 || n > ws.size {
		return fmt.Errorf("commit %d of %d: %w", n, ws.size, bfstatus.ErrInvalidArgument)
	}
	if n < ws.size {
		last := len(r.pending) > 0 && r.pending[len(r.pending)-1] == ws
		if !last || ws.offset+int64(ws.size) != r.writeHead {
			return fmt.Errorf("partial commit of a non-final span: %w", bfstatus.ErrInvalidArgument)
		}
		r.writeHead = ws.offset + int64(n)
		ws.size = n
	}

	if ws.staged && n > 0 {
		rowLen := len(ws.data) / r.nringlets
		for i := 0; i < r.nringlets; i++ {
			row := ws.data[i*rowLen : i*rowLen+n]
			if e := r.st.writeFrom(i, ws.offset, row); e != nil {
				return fmt.Errorf("commit writeback: %w", e)
			}
		}
	}

	ws.done, ws.committed = true, true
	ws.commitEnd = ws.offset + int64(n)
	for len(r.pending) > 0 && r.pending[0].committed {
		r.commitHead = r.pending[0].commitEnd
		r.pending = r.pending[1:]
	}
	r.pruneSequences()
	r.bcastData()
	return nil
}
