//go:build linux

package capture

import (
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
	"github.com/gopacket/gopacket/layers"
)

// snifferSource reads UDP payloads off an interface through an AF_PACKET
// socket, filtering on destination port.
type snifferSource struct {
	h      *afpacket.TPacket
	port   int
	frame  []byte
	parser *gopacket.DecodingLayerParser
	eth    layers.Ethernet
	ip4    layers.IPv4
	ip6    layers.IPv6
	udp    layers.UDP
}

func newSnifferSource(ifname string, port int, pollTimeout time.Duration) (*snifferSource, error) {
	h, e := afpacket.NewTPacket(
		afpacket.OptInterface(ifname),
		afpacket.OptPollTimeout(pollTimeout),
	)
	if e != nil {
		return nil, e
	}
	s := &snifferSource{h: h, port: port, frame: make([]byte, 65536)}
	s.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &s.eth, &s.ip4, &s.ip6, &s.udp)
	s.parser.IgnoreUnsupported = true
	return s, nil
}

func (s *snifferSource) recv(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	decoded := []gopacket.LayerType{}
	for {
		ci, e := s.h.ReadPacketDataTo(s.frame)
		if e == afpacket.ErrTimeout {
			if time.Now().After(deadline) {
				return 0, errTimeout
			}
			continue
		}
		if e != nil {
			return 0, e
		}

		if e := s.parser.DecodeLayers(s.frame[:ci.CaptureLength], &decoded); e != nil {
			continue
		}
		isUDP := false
		for _, lt := range decoded {
			if lt == layers.LayerTypeUDP {
				isUDP = true
			}
		}
		if !isUDP || int(s.udp.DstPort) != s.port {
			if time.Now().After(deadline) {
				return 0, errTimeout
			}
			continue
		}
		n := copy(buf, s.udp.Payload)
		return n, nil
	}
}

func (s *snifferSource) Close() error {
	s.h.Close()
	return nil
}

// NewSniffer creates a capture engine sniffing UDP packets destined to port
// on the named interface.
func NewSniffer(ifname string, port int, cfg Config) (*Engine, error) {
	pollTimeout := cfg.Timeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	src, e := newSnifferSource(ifname, port, pollTimeout)
	if e != nil {
		return nil, e
	}
	return newEngine(src, cfg)
}
