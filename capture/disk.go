package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lwa-project/bifrost/bfstatus"
)

type diskSource struct {
	f       *os.File
	recSize int64
}

func (s *diskSource) recv(buf []byte, timeout time.Duration) (int, error) {
	n, e := io.ReadFull(s.f, buf[:s.recSize])
	if e != nil {
		if errors.Is(e, io.EOF) || errors.Is(e, io.ErrUnexpectedEOF) {
			return 0, io.EOF
		}
		return 0, e
	}
	return n, nil
}

func (s *diskSource) seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		cur, e := s.tell()
		if e != nil {
			return 0, e
		}
		base = cur
	case io.SeekEnd:
		end, e := s.f.Seek(0, io.SeekEnd)
		if e != nil {
			return 0, e
		}
		base = end
	default:
		return 0, fmt.Errorf("seek whence %d: %w", whence, bfstatus.ErrInvalidArgument)
	}
	abs := base + offset
	if abs < 0 || abs%s.recSize != 0 {
		// landing inside a packet: the format has no resync
		return 0, fmt.Errorf("seek to %d is not a packet boundary (record size %d): %w",
			abs, s.recSize, bfstatus.ErrInvalidArgument)
	}
	return s.f.Seek(abs, io.SeekStart)
}

func (s *diskSource) tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *diskSource) Close() error {
	return s.f.Close()
}

// NewDiskReader creates a capture engine reading fixed-size packet records
// from f. The engine owns the file.
func NewDiskReader(f *os.File, cfg Config) (*Engine, error) {
	format, e := GetFormat(cfg.Format)
	if e != nil {
		f.Close()
		return nil, e
	}
	maxPayload := cfg.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = 9000
	}
	return newEngine(&diskSource{f: f, recSize: int64(format.PacketSize(maxPayload))}, cfg)
}
