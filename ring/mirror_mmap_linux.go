//go:build linux

package ring

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapFixed maps the whole fd MAP_SHARED|MAP_FIXED over the reserved pages
// backing dst. dst must be page-aligned (it comes from mmap).
func mapFixed(dst []byte, fd int) error {
	addr := uintptr(unsafe.Pointer(&dst[0]))
	_, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, uintptr(len(dst)),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
