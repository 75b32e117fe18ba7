package main

import (
	"os"
	"runtime/pprof"

	"github.com/pkg/errors"
)

// profileFile collects the CPU profile used for profile guided optimization.
const profileFile = "default.pgo"

// startProfile writes a CPU profile to path until the returned function is
// called.
func startProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create cpu profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "start cpu profile")
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
