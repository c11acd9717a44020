//go:build linux || darwin

package memory

import (
	"golang.org/x/sys/unix"
)

func allocHost(size int, pinned bool) (b []byte, free func() error, e error) {
	n := (size + Alignment - 1) &^ (Alignment - 1)
	b, e = unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if e != nil {
		return nil, nil, e
	}
	if pinned {
		if e = unix.Mlock(b); e != nil {
			unix.Munmap(b)
			return nil, nil, e
		}
	}
	whole := b
	return b[:size], func() error { return unix.Munmap(whole) }, nil
}
