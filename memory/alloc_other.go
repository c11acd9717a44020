//go:build !linux && !darwin

package memory

import "unsafe"

func allocHost(size int, pinned bool) (b []byte, free func() error, e error) {
	// No mmap/mlock on this platform; align within an over-allocation.
	raw := make([]byte, size+Alignment)
	off := (Alignment - int(uintptr(unsafe.Pointer(&raw[0]))&(Alignment-1))) & (Alignment - 1)
	b = raw[off : off+size]
	return b, func() error { return nil }, nil
}
