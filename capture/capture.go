// Package capture translates packet streams into the ring sequence/span
// model: packets are decoded, scattered into double-buffered time slots, and
// committed to a ring with gaps zero-filled, invoking a header-synthesis
// callback at every sequence boundary.
package capture

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/core/logging"
	"github.com/lwa-project/bifrost/ring"
)

var logger = logging.New("capture")

// Status is the outcome of one capture iteration.
type Status int

// Capture statuses.
const (
	StatusStarted Status = iota
	StatusEnded
	StatusContinued
	StatusChanged
	StatusNoData
	StatusInterrupted
	StatusError
)

var statusNames = map[Status]string{
	StatusStarted:     "STARTED",
	StatusEnded:       "ENDED",
	StatusContinued:   "CONTINUED",
	StatusChanged:     "CHANGED",
	StatusNoData:      "NO_DATA",
	StatusInterrupted: "INTERRUPTED",
	StatusError:       "ERROR",
}

func (st Status) String() string {
	if s, ok := statusNames[st]; ok {
		return s
	}
	return fmt.Sprintf("status(%d)", int(st))
}

// SequenceChange describes a new structural epoch detected by the decoder.
type SequenceChange struct {
	// TimeOffset is the sample index of the new sequence's first sample.
	TimeOffset uint64 `json:"timeOffset"`
	Chan0      int    `json:"chan0"`
	Nchan      int    `json:"nchan"`
	Nsrc       int    `json:"nsrc"`
	Nbit       int    `json:"nbit"`
	Complex    bool   `json:"complex"`
}

// SequenceCallback synthesizes the header of a new ring sequence. Returning
// an error rejects the sequence: its packets are dropped until the next
// structural change, or until a packet arrives more than SlotNtime samples
// past the rejected sequence's slots, when the callback runs again. The
// callback runs on the capture thread and must not block on the ring's writer.
type SequenceCallback func(c *SequenceChange) (timeTag uint64, header []byte, e error)

func defaultCallback(c *SequenceChange) (uint64, []byte, error) {
	hdr, e := json.Marshal(c)
	return c.TimeOffset, hdr, e
}

// Config contains capture engine parameters.
type Config struct {
	// Format names a registered packet format.
	Format string

	// Ring receives the captured stream. The engine holds the ring's writer
	// token from construction until Close.
	Ring *ring.Ring

	// Nsrc is the number of concurrent source streams; Src0 the first
	// absolute source index.
	Nsrc int
	Src0 int

	// MaxPayloadSize bounds one packet's payload. The default is 9000.
	MaxPayloadSize int

	// BufferNtime is the contiguous-commit granularity in time samples.
	BufferNtime int

	// SlotNtime is the sequence-boundary granularity in time samples.
	// It must be a multiple of BufferNtime. The default is 16*BufferNtime.
	SlotNtime int

	// PinCore pins the capture thread to CPU core Core while Run executes.
	PinCore bool
	Core    int

	// Timeout bounds one Recv iteration waiting for a packet.
	// The default is 1s.
	Timeout time.Duration

	// SequenceName prefixes ring sequence names. The default is the ring name.
	SequenceName string

	// OnSequenceChange synthesizes sequence headers. The default callback
	// emits the SequenceChange as JSON with timeTag=TimeOffset.
	OnSequenceChange SequenceCallback
}

func (cfg *Config) applyDefaults() error {
	if cfg.Ring == nil || cfg.Nsrc <= 0 {
		return fmt.Errorf("capture config needs ring and nsrc: %w", bfstatus.ErrInvalidArgument)
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = 9000
	}
	if cfg.BufferNtime <= 0 {
		return fmt.Errorf("bufferNtime %d: %w", cfg.BufferNtime, bfstatus.ErrInvalidArgument)
	}
	if cfg.SlotNtime <= 0 {
		cfg.SlotNtime = 16 * cfg.BufferNtime
	}
	if cfg.SlotNtime%cfg.BufferNtime != 0 {
		return fmt.Errorf("slotNtime %d not a multiple of bufferNtime %d: %w",
			cfg.SlotNtime, cfg.BufferNtime, bfstatus.ErrInvalidArgument)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.SequenceName == "" {
		cfg.SequenceName = cfg.Ring.Name()
	}
	if cfg.OnSequenceChange == nil {
		cfg.OnSequenceChange = defaultCallback
	}
	return nil
}
