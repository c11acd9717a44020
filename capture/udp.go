package capture

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gogf/greuse"
)

type udpSource struct {
	conn net.PacketConn
}

func (s *udpSource) recv(buf []byte, timeout time.Duration) (int, error) {
	if e := s.conn.SetReadDeadline(time.Now().Add(timeout)); e != nil {
		return 0, e
	}
	n, _, e := s.conn.ReadFrom(buf)
	if e != nil {
		var ne net.Error
		if errors.As(e, &ne) && ne.Timeout() {
			return 0, errTimeout
		}
		if errors.Is(e, net.ErrClosed) {
			return 0, io.EOF
		}
		return 0, e
	}
	return n, nil
}

func (s *udpSource) Close() error {
	return s.conn.Close()
}

// NewUDPCapture creates a capture engine reading datagrams from conn.
// The engine owns the socket.
func NewUDPCapture(conn net.PacketConn, cfg Config) (*Engine, error) {
	return newEngine(&udpSource{conn: conn}, cfg)
}

// ListenUDP binds addr with address reuse and creates a UDP capture engine.
func ListenUDP(addr string, cfg Config) (*Engine, error) {
	conn, e := greuse.ListenPacket("udp", addr)
	if e != nil {
		return nil, e
	}
	return NewUDPCapture(conn, cfg)
}
