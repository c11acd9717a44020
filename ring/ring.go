// Package ring implements the streaming ring buffer: a memory-space-aware
// circular byte store shared by one writer and many readers, carved into
// sequences (contiguous epochs with an immutable header) and accessed through
// contiguous spans.
package ring

import (
	"fmt"
	"io"
	"sync"
	"time"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/pkg/math"
	"github.com/tul/emission"
	"go.uber.org/zap"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/core/logging"
	"github.com/lwa-project/bifrost/memory"
)

var logger = logging.New("ring")

// Forever blocks without a deadline. A zero timeout makes the operation
// non-blocking (WOULD_BLOCK when it cannot proceed immediately).
const Forever time.Duration = -1

const eventSequenceOpen = "SequenceOpen"

// Ring is a circular byte buffer with sequence metadata.
type Ring struct {
	name  string
	space memory.Space
	core  int

	mu           sync.Mutex
	dataCh       chan struct{} // replaced on broadcast: data/registry progress
	spaceCh      chan struct{} // replaced on broadcast: reader released space
	interruptGen uint64

	st         *storage
	contiguous int64
	capacity   int64
	nringlets  int

	writing    bool
	written    bool
	writeHead  int64 // reservation cursor
	commitHead int64 // commit cursor
	pending    []*WriteSpan
	curSeq     *sequence

	seqs      []*sequence
	nextSeqID uint64

	readers map[*Reader]struct{}
	emitter *emission.Emitter
	closed  bool
}

// New creates a Ring in the given memory space.
// The ring holds no storage until Resize is called.
func New(name string, space memory.Space) *Ring {
	if space == memory.SpaceAuto {
		space = memory.SpaceSystem
	}
	r := &Ring{
		name:    name,
		space:   space,
		core:    -1,
		dataCh:  make(chan struct{}),
		spaceCh: make(chan struct{}),
		readers: map[*Reader]struct{}{},
		emitter: emission.NewEmitter(),
	}
	logger.Debug("ring created", zap.String("name", name), zap.Stringer("space", space))
	return r
}

// Name returns the ring name.
func (r *Ring) Name() string { return r.name }

// Space returns the ring's memory space.
func (r *Ring) Space() memory.Space { return r.space }

// Capacity returns the current per-ringlet capacity in bytes.
func (r *Ring) Capacity() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// ContiguousSpan returns the guaranteed contiguous reserve size.
func (r *Ring) ContiguousSpan() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contiguous
}

// Resize sets the ring geometry: contiguous is the largest single span any
// writer will reserve, total the requested capacity (rounded up to a power of
// two and to at least 2*contiguous), nringlets the number of parallel rows.
//
// Resize succeeds only while the ring has never been written: once any span
// has been reserved it fails with INVALID_STATE, even if every committed byte
// has since been read.
func (r *Ring) Resize(contiguous, total int64, nringlets int) error {
	if contiguous <= 0 || nringlets < 1 {
		return fmt.Errorf("resize contiguous=%d nringlets=%d: %w", contiguous, nringlets, bfstatus.ErrInvalidArgument)
	}
	total = math.MaxInt64(total, 2*contiguous)
	total = binutils.NextPowerOfTwo(total)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("resize closed ring: %w", bfstatus.ErrInvalidState)
	}
	if r.written {
		return fmt.Errorf("resize written ring %q: %w", r.name, bfstatus.ErrInvalidState)
	}
	if r.st != nil && r.capacity == total && r.nringlets == nringlets {
		r.contiguous = math.MaxInt64(r.contiguous, contiguous)
		return nil
	}

	st, e := newStorage(r.space, total, nringlets)
	if e != nil {
		return e
	}
	if r.st != nil {
		if e := r.st.close(); e != nil {
			logger.Warn("old storage teardown", zap.String("ring", r.name), zap.Error(e))
		}
	}
	r.st, r.contiguous, r.capacity, r.nringlets = st, contiguous, total, nringlets
	logger.Info("ring resized",
		zap.String("name", r.name),
		zap.Int64("contiguous", contiguous),
		zap.Int64("capacity", total),
		zap.Int("nringlets", nringlets),
		zap.Bool("mirrored", st.mir != nil))
	return nil
}

// NRinglets returns the configured ringlet count.
func (r *Ring) NRinglets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nringlets
}

// SetAffinity records the preferred CPU core of this ring's processing
// threads. It is a hint; consumers pin themselves with core/affinity.
func (r *Ring) SetAffinity(core int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core = core
}

// Affinity returns the preferred CPU core, or -1 when unset.
func (r *Ring) Affinity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.core
}

// OnSequenceOpen registers a callback invoked when the writer begins a
// sequence. Returns an io.Closer that cancels the registration.
func (r *Ring) OnSequenceOpen(cb func(name string, timeTag uint64)) io.Closer {
	handle := r.emitter.On(eventSequenceOpen, cb)
	return listenerCanceler{r.emitter, handle}
}

type listenerCanceler struct {
	emitter  *emission.Emitter
	listener emission.ListenerHandle
}

func (c listenerCanceler) Close() error {
	c.emitter.RemoveListener(eventSequenceOpen, c.listener)
	return nil
}

// Interrupt wakes every thread parked on the ring; their pending operation
// returns INTERRUPTED. Ring state is unchanged and operations may resume.
func (r *Ring) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interruptGen++
	r.bcastData()
	r.bcastSpace()
}

// Close destroys the ring, releasing its storage and mapping.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.writing {
		return fmt.Errorf("close ring %q while writing: %w", r.name, bfstatus.ErrInvalidState)
	}
	r.closed = true
	r.interruptGen++
	r.bcastData()
	r.bcastSpace()
	r.seqs = nil
	if r.st != nil {
		st := r.st
		r.st = nil
		return st.close()
	}
	return nil
}

// tail is the oldest byte offset still addressable. Guarded by mu.
func (r *Ring) tail() int64 {
	return math.MaxInt64(0, r.writeHead-r.capacity)
}

// minGuaranteedCursor is the slowest guaranteed reader position, or the
// reservation cursor when no guaranteed reader exists. Guarded by mu.
func (r *Ring) minGuaranteedCursor() int64 {
	min := r.writeHead
	for rd := range r.readers {
		if rd.guaranteed {
			min = math.MinInt64(min, rd.guardPos())
		}
	}
	return min
}

func (r *Ring) bcastData() {
	close(r.dataCh)
	r.dataCh = make(chan struct{})
}

func (r *Ring) bcastSpace() {
	close(r.spaceCh)
	r.spaceCh = make(chan struct{})
}

// waitCond blocks until pred holds, using the channel returned by getCh as
// the broadcast source. Caller holds mu; it is held again on return.
func (r *Ring) waitCond(getCh func() chan struct{}, timeout time.Duration, pred func() bool) error {
	if pred() {
		return nil
	}
	if timeout == 0 {
		return bfstatus.ErrWouldBlock
	}
	gen := r.interruptGen
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		ch := getCh()
		r.mu.Unlock()
		select {
		case <-ch:
			r.mu.Lock()
		case <-expired:
			r.mu.Lock()
			if pred() {
				return nil
			}
			return bfstatus.ErrTimeout
		}
		if r.interruptGen != gen {
			return bfstatus.ErrInterrupted
		}
		if pred() {
			return nil
		}
	}
}

// pruneSequences drops registry entries nobody can reach anymore:
// closed, unreferenced, and fully behind the writer's tail. Guarded by mu.
func (r *Ring) pruneSequences() {
	tail := r.tail()
	keep := r.seqs[:0]
	for _, s := range r.seqs {
		if s.end >= 0 && s.refs == 0 && s.end <= tail && s != r.curSeq {
			s.expired = true
			continue
		}
		keep = append(keep, s)
	}
	r.seqs = keep
}
