// Package memory provides space-aware allocation and data transfer.
//
// A Space identifies where a byte buffer lives: system RAM, pinned host RAM,
// device memory, or managed memory. Operations on the two device spaces are
// dispatched to a registered Driver; without one they report UNSUPPORTED.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/core/logging"
)

var logger = logging.New("memory")

// Space identifies the locality class of a byte buffer.
type Space int

// Memory spaces.
const (
	SpaceAuto Space = iota
	SpaceSystem
	SpaceCUDA
	SpaceCUDAHost
	SpaceCUDAManaged
)

var spaceNames = map[Space]string{
	SpaceAuto:        "auto",
	SpaceSystem:      "system",
	SpaceCUDA:        "cuda",
	SpaceCUDAHost:    "cuda_host",
	SpaceCUDAManaged: "cuda_managed",
}

func (s Space) String() string {
	if n, ok := spaceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("space(%d)", int(s))
}

// IsDevice reports whether the space is backed by a device driver.
func (s Space) IsDevice() bool {
	return s == SpaceCUDA || s == SpaceCUDAManaged
}

// ParseSpace converts a space name to a Space.
func ParseSpace(name string) (Space, error) {
	for s, n := range spaceNames {
		if n == name {
			return s, nil
		}
	}
	return SpaceAuto, fmt.Errorf("unknown space %q: %w", name, bfstatus.ErrInvalidSpace)
}

// Alignment is the boundary of host allocations, in bytes.
const Alignment = 4096

// Buffer is an allocation in one space.
type Buffer struct {
	b     []byte
	space Space
	free  func() error
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte { return b.b }

// Space returns the buffer's memory space.
func (b *Buffer) Space() Space { return b.space }

// Len returns the buffer length.
func (b *Buffer) Len() int { return len(b.b) }

// Free releases the buffer.
func (b *Buffer) Free() error {
	if b.b == nil {
		return nil
	}
	unregister(b.b)
	f := b.free
	b.b, b.free = nil, nil
	if f != nil {
		return f()
	}
	return nil
}

// Alloc allocates size bytes in the given space.
// Host allocations are aligned to Alignment.
func Alloc(size int, space Space) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("alloc size %d: %w", size, bfstatus.ErrInvalidArgument)
	}
	if space == SpaceAuto {
		space = SpaceSystem
	}

	var (
		b    []byte
		free func() error
		e    error
	)
	switch space {
	case SpaceSystem:
		b, free, e = allocHost(size, false)
	case SpaceCUDAHost:
		b, free, e = allocHost(size, true)
	case SpaceCUDA, SpaceCUDAManaged:
		d := getDriver()
		if d == nil {
			return nil, fmt.Errorf("alloc in %s without driver: %w", space, bfstatus.ErrUnsupported)
		}
		b, free, e = d.Alloc(size, space)
	default:
		return nil, fmt.Errorf("alloc in %s: %w", space, bfstatus.ErrInvalidSpace)
	}
	if e != nil {
		return nil, fmt.Errorf("alloc %d bytes in %s: %w", size, space, bfstatus.ErrInsufficientStorage)
	}

	buf := &Buffer{b: b, space: space, free: free}
	register(b, space)
	return buf, nil
}

// allocation registry, consulted by SpaceOf

type allocation struct {
	lo, hi uintptr
	space  Space
}

var (
	registryLock sync.RWMutex
	registry     []allocation
)

func register(b []byte, space Space) {
	lo := uintptr(unsafe.Pointer(&b[0]))
	registryLock.Lock()
	defer registryLock.Unlock()
	registry = append(registry, allocation{lo, lo + uintptr(len(b)), space})
	sort.Slice(registry, func(i, j int) bool { return registry[i].lo < registry[j].lo })
}

func unregister(b []byte) {
	lo := uintptr(unsafe.Pointer(&b[0]))
	registryLock.Lock()
	defer registryLock.Unlock()
	for i, a := range registry {
		if a.lo == lo {
			registry = append(registry[:i], registry[i+1:]...)
			return
		}
	}
}

// SpaceOf determines the memory space of a byte slice.
// Slices outside any registered allocation are reported as SpaceSystem.
func SpaceOf(b []byte) Space {
	if len(b) == 0 {
		return SpaceSystem
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	registryLock.RLock()
	defer registryLock.RUnlock()
	i := sort.Search(len(registry), func(i int) bool { return registry[i].hi > p })
	if i < len(registry) && registry[i].lo <= p {
		return registry[i].space
	}
	return SpaceSystem
}

// Copy copies len(src) bytes between spaces. len(dst) must be >= len(src).
func Copy(dst []byte, dstSpace Space, src []byte, srcSpace Space) error {
	if len(dst) < len(src) {
		return fmt.Errorf("copy %d into %d: %w", len(src), len(dst), bfstatus.ErrInvalidArgument)
	}
	if dstSpace == SpaceAuto {
		dstSpace = SpaceOf(dst)
	}
	if srcSpace == SpaceAuto {
		srcSpace = SpaceOf(src)
	}

	if !dstSpace.IsDevice() && !srcSpace.IsDevice() {
		copy(dst, src)
		return nil
	}
	d := getDriver()
	if d == nil {
		return fmt.Errorf("copy %s->%s without driver: %w", srcSpace, dstSpace, bfstatus.ErrUnsupported)
	}
	return d.Copy(dst, dstSpace, src, srcSpace)
}

// Copy2D copies height rows of width bytes with per-space strides.
func Copy2D(dst []byte, dstStride int, dstSpace Space, src []byte, srcStride int, srcSpace Space, width, height int) error {
	if width < 0 || height < 0 || width > dstStride || width > srcStride {
		return fmt.Errorf("copy2d %dx%d strides %d/%d: %w", width, height, dstStride, srcStride, bfstatus.ErrInvalidShape)
	}
	for row := 0; row < height; row++ {
		do, so := row*dstStride, row*srcStride
		if e := Copy(dst[do:do+width], dstSpace, src[so:so+width], srcSpace); e != nil {
			return e
		}
	}
	return nil
}

// Memset fills b with value.
func Memset(b []byte, space Space, value byte) error {
	if space == SpaceAuto {
		space = SpaceOf(b)
	}
	if space.IsDevice() {
		d := getDriver()
		if d == nil {
			return fmt.Errorf("memset in %s without driver: %w", space, bfstatus.ErrUnsupported)
		}
		return d.Memset(b, space, value)
	}
	for i := range b {
		b[i] = value
	}
	return nil
}

// Memset2D fills height rows of width bytes with value.
func Memset2D(b []byte, stride int, space Space, value byte, width, height int) error {
	if width < 0 || height < 0 || width > stride {
		return fmt.Errorf("memset2d %dx%d stride %d: %w", width, height, stride, bfstatus.ErrInvalidShape)
	}
	for row := 0; row < height; row++ {
		o := row * stride
		if e := Memset(b[o:o+width], space, value); e != nil {
			return e
		}
	}
	return nil
}
