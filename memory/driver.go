package memory

import "sync"

// Driver services allocation and transfer for the device spaces.
// A CUDA binding registers itself here; the core never links a GPU runtime.
type Driver interface {
	// Alloc allocates size bytes in space (SpaceCUDA or SpaceCUDAManaged).
	// The returned slice must be addressable by the host for staged ring
	// access; a driver that cannot satisfy this must fail the allocation.
	Alloc(size int, space Space) (b []byte, free func() error, e error)

	// Copy transfers len(src) bytes where at least one side is a device space.
	Copy(dst []byte, dstSpace Space, src []byte, srcSpace Space) error

	// Memset fills device memory with value.
	Memset(b []byte, space Space, value byte) error
}

var (
	driverLock sync.RWMutex
	driver     Driver
)

// RegisterDriver installs the device-space driver.
// Passing nil removes the current driver.
func RegisterDriver(d Driver) {
	driverLock.Lock()
	defer driverLock.Unlock()
	if driver != nil && d != nil {
		logger.Warn("replacing device driver")
	}
	driver = d
}

func getDriver() Driver {
	driverLock.RLock()
	defer driverLock.RUnlock()
	return driver
}
