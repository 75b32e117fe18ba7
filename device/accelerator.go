package device

import "github.com/pkg/errors"

// ErrNoAccelerator is returned by Probe when the binary was built without
// accelerator support or no device answers at the index.
var ErrNoAccelerator = errors.New("device: no accelerator available")

// Accelerator describes one accelerator as reported by its driver.
type Accelerator struct {
	Index       int
	Name        string
	MemoryBytes int64
}
