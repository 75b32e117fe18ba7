package config

import "fmt"

import "github.com/pkg/errors"

// ErrConfig is matched by every configuration error. Use errors.Is to check.
var ErrConfig = errors.New("config: invalid configuration")

// Error names the configuration fragment that failed to resolve and why.
type Error struct {
	Fragment string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Fragment, e.Reason)
}

// Is reports whether target is ErrConfig.
func (e *Error) Is(target error) bool {
	return target == ErrConfig
}

func newError(fragment, format string, args ...interface{}) error {
	return &Error{Fragment: fragment, Reason: fmt.Sprintf(format, args...)}
}
