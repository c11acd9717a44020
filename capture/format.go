package capture

import (
	"fmt"
	"sync"

	"github.com/lwa-project/bifrost/bfstatus"
)

// PacketDesc describes one decoded packet.
type PacketDesc struct {
	// Seq is the time index of the packet's first sample.
	Seq uint64
	// Src is the absolute source index.
	Src int
	// Nsrc is the source count announced by the stream.
	Nsrc int
	// Chan0 is the first channel number.
	Chan0 int
	// Nchan is the channel count.
	Nchan int
	// Ntime is the number of time samples carried by the packet.
	Ntime int
	// Nbit is the sample bit depth.
	Nbit int
	// Complex marks complex-valued samples.
	Complex bool
	// TimeTag is the stream time tag of the first sample, when the format
	// carries one.
	TimeTag uint64
}

// sameStructure reports whether two descriptors belong to one sequence epoch.
func (d *PacketDesc) sameStructure(o *PacketDesc) bool {
	return d.Nsrc == o.Nsrc && d.Chan0 == o.Chan0 && d.Nchan == o.Nchan &&
		d.Nbit == o.Nbit && d.Complex == o.Complex
}

// Format decodes packets of one wire format and scatters their payloads into
// slot memory. Implementations must be safe for use from a single capture
// thread.
type Format interface {
	Name() string

	// PacketSize returns the fixed on-disk record size for the given maximum
	// payload size, used by the disk reader for packet framing and seeking.
	PacketSize(maxPayload int) int

	// Decode validates pkt and extracts its descriptor and payload.
	Decode(pkt []byte) (desc PacketDesc, payload []byte, ok bool)

	// FrameBytes returns the byte size of one time sample of one source.
	FrameBytes(desc *PacketDesc) int

	// Scatter writes one time sample's payload into its frame of slot memory.
	Scatter(desc *PacketDesc, payload, frame []byte)
}

var (
	formatsLock sync.RWMutex
	formats     = map[string]Format{}
)

// RegisterFormat adds a packet format to the registry.
// Format packages call this from init().
func RegisterFormat(f Format) {
	formatsLock.Lock()
	defer formatsLock.Unlock()
	formats[f.Name()] = f
}

// GetFormat looks up a registered packet format.
func GetFormat(name string) (Format, error) {
	formatsLock.RLock()
	defer formatsLock.RUnlock()
	if f, ok := formats[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown packet format %q: %w", name, bfstatus.ErrUnsupported)
}
