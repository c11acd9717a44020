//go:build !linux

package affinity

func setAffinity(core int) (undo func(), e error) {
	// CPU pinning is unavailable; thread locking still applies.
	return func() {}, nil
}
