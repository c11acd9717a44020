//go:build linux

package ring

import (
	"os"

	"golang.org/x/sys/unix"
)

// mirrorMap is a capacity-byte memfd region mapped twice into adjacent
// virtual pages, so b[i] and b[i+capacity] address the same physical byte.
type mirrorMap struct {
	b  []byte // 2*capacity
	fd int
}

func newMirror(capacity int64, pinned bool) (*mirrorMap, error) {
	if capacity%int64(os.Getpagesize()) != 0 {
		return nil, errMirrorUnavailable
	}

	fd, e := unix.MemfdCreate("bifrost-ring", unix.MFD_CLOEXEC)
	if e != nil {
		return nil, errMirrorUnavailable
	}
	if e = unix.Ftruncate(fd, capacity); e != nil {
		unix.Close(fd)
		return nil, errMirrorUnavailable
	}

	// Reserve 2*capacity of address space, then pin both halves onto the fd.
	b, e := unix.Mmap(-1, 0, int(2*capacity), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if e != nil {
		unix.Close(fd)
		return nil, errMirrorUnavailable
	}
	for _, half := range []int64{0, capacity} {
		if e = mapFixed(b[half:half+capacity], fd); e != nil {
			unix.Munmap(b)
			unix.Close(fd)
			return nil, errMirrorUnavailable
		}
	}

	if pinned {
		if e = unix.Mlock(b); e != nil {
			unix.Munmap(b)
			unix.Close(fd)
			return nil, errMirrorUnavailable
		}
	}
	return &mirrorMap{b: b, fd: fd}, nil
}

func (m *mirrorMap) close() error {
	e := unix.Munmap(m.b)
	if e2 := unix.Close(m.fd); e == nil {
		e = e2
	}
	return e
}
