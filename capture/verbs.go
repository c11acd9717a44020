package capture

import (
	"fmt"

	"github.com/lwa-project/bifrost/bfstatus"
)

// NewVerbsCapture would receive through a kernel-bypass verbs queue; the
// datapath is not compiled into this build.
func NewVerbsCapture(fd int, cfg Config) (*Engine, error) {
	return nil, fmt.Errorf("verbs capture: %w", bfstatus.ErrUnsupported)
}
