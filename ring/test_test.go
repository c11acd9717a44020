package ring_test

import (
	"github.com/lwa-project/bifrost/core/testenv"
)

var makeAR = testenv.MakeAR
