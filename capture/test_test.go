package capture_test

import (
	"github.com/lwa-project/bifrost/core/testenv"
)

var makeAR = testenv.MakeAR

// payloadByte is the deterministic sample pattern used across capture tests.
func payloadByte(src int, t uint64, j int) byte {
	return byte(src*31 + int(t)*7 + j)
}
