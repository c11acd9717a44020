//go:build linux

package affinity

import (
	"golang.org/x/sys/unix"
)

func setAffinity(core int) (undo func(), e error) {
	var prev unix.CPUSet
	if e := unix.SchedGetaffinity(0, &prev); e != nil {
		return nil, e
	}

	var set unix.CPUSet
	set.Set(core)
	if e := unix.SchedSetaffinity(0, &set); e != nil {
		return nil, e
	}
	return func() { unix.SchedSetaffinity(0, &prev) }, nil
}
