//go:build cuda

package device

import (
	"github.com/pkg/errors"
	"gorgonia.org/cu"
)

// Probe reports the CUDA device at index.
func Probe(index int) (Accelerator, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return Accelerator{}, errors.Wrap(err, "device: count cuda devices")
	}
	if index < 0 || index >= n {
		return Accelerator{}, errors.Wrapf(ErrNoAccelerator, "cuda device %d of %d", index, n)
	}
	dev, err := cu.GetDevice(index)
	if err != nil {
		return Accelerator{}, errors.Wrapf(err, "device: get cuda device %d", index)
	}
	name, err := dev.Name()
	if err != nil {
		return Accelerator{}, errors.Wrapf(err, "device: name of cuda device %d", index)
	}
	mem, err := dev.TotalMem()
	if err != nil {
		return Accelerator{}, errors.Wrapf(err, "device: memory of cuda device %d", index)
	}
	return Accelerator{Index: index, Name: name, MemoryBytes: mem}, nil
}
