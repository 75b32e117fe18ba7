//go:build !cuda

package device

import "github.com/pkg/errors"

// Probe reports the accelerator at index. This build has no CUDA support.
func Probe(index int) (Accelerator, error) {
	return Accelerator{}, errors.Wrapf(ErrNoAccelerator, "device %d: built without the cuda tag", index)
}
