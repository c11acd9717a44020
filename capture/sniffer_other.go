//go:build !linux

package capture

import (
	"fmt"

	"github.com/lwa-project/bifrost/bfstatus"
)

// NewSniffer requires AF_PACKET and is only available on Linux.
func NewSniffer(ifname string, port int, cfg Config) (*Engine, error) {
	return nil, fmt.Errorf("sniffer capture on this platform: %w", bfstatus.ErrUnsupported)
}
