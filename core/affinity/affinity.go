// Package affinity pins the calling thread to a CPU core.
package affinity

import (
	"runtime"
)

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to the given CPU core. core<0 still locks the thread but leaves the CPU
// mask unchanged.
//
// The returned function undoes both effects. It must be called from the same
// goroutine.
func Pin(core int) (restore func(), e error) {
	runtime.LockOSThread()
	if core < 0 {
		return runtime.UnlockOSThread, nil
	}

	undo, e := setAffinity(core)
	if e != nil {
		runtime.UnlockOSThread()
		return nil, e
	}
	return func() {
		undo()
		runtime.UnlockOSThread()
	}, nil
}
