// Package memorytestenv provides a host-backed device driver for tests.
package memorytestenv

import (
	"testing"

	"github.com/lwa-project/bifrost/memory"
)

// HostDriver emulates the device spaces with ordinary host memory, so device
// code paths (staged ring wrap, cross-space copies) run without a GPU.
type HostDriver struct{}

var _ memory.Driver = HostDriver{}

// Alloc implements memory.Driver.
func (HostDriver) Alloc(size int, space memory.Space) (b []byte, free func() error, e error) {
	b = make([]byte, size)
	return b, func() error { return nil }, nil
}

// Copy implements memory.Driver.
func (HostDriver) Copy(dst []byte, dstSpace memory.Space, src []byte, srcSpace memory.Space) error {
	copy(dst, src)
	return nil
}

// Memset implements memory.Driver.
func (HostDriver) Memset(b []byte, space memory.Space, value byte) error {
	for i := range b {
		b[i] = value
	}
	return nil
}

// Install registers HostDriver and returns a function that removes it.
func Install(t testing.TB) (uninstall func()) {
	memory.RegisterDriver(HostDriver{})
	return func() { memory.RegisterDriver(nil) }
}
