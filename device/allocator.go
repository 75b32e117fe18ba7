// Package device turns a device assignment into placement decisions: a main
// device used for default placement, and a lookup from logical role (input,
// encoder, decoder, ...) to device index.
package device

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
)

// MaxDevices bounds device indices. Availability of the device is not checked.
const MaxDevices = 256

// RoleInput is the role whose device is the main device of a role mapping.
const RoleInput = "input"

// ErrDevice is matched by every device assignment error.
var ErrDevice = errors.New("device: invalid device assignment")

// Error describes an invalid device assignment.
type Error struct {
	Spec   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s: %s", e.Spec, e.Reason)
}

// Is reports whether target is ErrDevice.
func (e *Error) Is(target error) bool {
	return target == ErrDevice
}

// Kind is the normalized shape of an assignment.
type Kind int

const (
	Single Kind = iota
	Tuple
	Roles
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Tuple:
		return "tuple"
	case Roles:
		return "roles"
	}
	return "unknown"
}

// Role binds a logical role to a device index.
type Role struct {
	Name  string
	Index int
}

// Allocator holds the normalized assignment.
type Allocator struct {
	kind    Kind
	main    int
	indices []int
	roles   []Role
}

// New normalizes spec. A scalar is its own main device; for a tuple or list the
// first element is main; for a mapping the "input" role is main, defaulting to
// device 0.
func New(spec config.DeviceSpec) (*Allocator, error) {
	text := spec.String()
	switch v := spec.Value.(type) {
	case config.Tuple:
		return newTuple(text, v)
	case config.List:
		return newTuple(text, v)
	case *config.Mapping:
		a := &Allocator{kind: Roles}
		for _, item := range v.Items {
			name, ok := item.Key.(string)
			if !ok {
				return nil, &Error{Spec: text, Reason: fmt.Sprintf("role %s is not a string", config.FormatLiteral(item.Key))}
			}
			index, err := deviceIndex(text, item.Value)
			if err != nil {
				return nil, err
			}
			a.roles = append(a.roles, Role{Name: name, Index: index})
			if name == RoleInput {
				a.main = index
			}
		}
		return a, nil
	default:
		index, err := deviceIndex(text, v)
		if err != nil {
			return nil, err
		}
		return &Allocator{kind: Single, main: index}, nil
	}
}

func newTuple(text string, items []interface{}) (*Allocator, error) {
	if len(items) == 0 {
		return nil, &Error{Spec: text, Reason: "empty device tuple"}
	}
	a := &Allocator{kind: Tuple}
	for _, item := range items {
		index, err := deviceIndex(text, item)
		if err != nil {
			return nil, err
		}
		a.indices = append(a.indices, index)
	}
	a.main = a.indices[0]
	return a, nil
}

func deviceIndex(text string, v interface{}) (int, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, &Error{Spec: text, Reason: fmt.Sprintf("device index %s is not an integer", config.FormatLiteral(v))}
	}
	if i < 0 || i >= MaxDevices {
		return 0, &Error{Spec: text, Reason: fmt.Sprintf("device index %d out of range [0, %d)", i, MaxDevices)}
	}
	return int(i), nil
}

// Kind returns the normalized shape.
func (a *Allocator) Kind() Kind {
	return a.kind
}

// Main returns the device used for default placement.
func (a *Allocator) Main() int {
	return a.main
}

// Lookup returns the device of role, or the main device when the role has no
// device of its own.
func (a *Allocator) Lookup(role string) int {
	for _, r := range a.roles {
		if r.Name == role {
			return r.Index
		}
	}
	return a.main
}

// Devices lists the distinct devices in assignment order, main first.
func (a *Allocator) Devices() []int {
	out := []int{a.main}
	add := func(i int) {
		for _, have := range out {
			if have == i {
				return
			}
		}
		out = append(out, i)
	}
	for _, i := range a.indices {
		add(i)
	}
	for _, r := range a.roles {
		add(r.Index)
	}
	return out
}

func (a *Allocator) String() string {
	switch a.kind {
	case Tuple:
		parts := make([]string, len(a.indices))
		for i, d := range a.indices {
			parts[i] = fmt.Sprint(d)
		}
		return fmt.Sprintf("devices (%s), main %d", strings.Join(parts, ", "), a.main)
	case Roles:
		parts := make([]string, len(a.roles))
		for i, r := range a.roles {
			parts[i] = fmt.Sprintf("%s=%d", r.Name, r.Index)
		}
		return fmt.Sprintf("devices {%s}, main %d", strings.Join(parts, ", "), a.main)
	}
	return fmt.Sprintf("device %d", a.main)
}
