// Package learning implements the optimizers that update model parameters from
// their gradients, and the gradient clipping applied before each update.
package learning

import (
	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
)

// Param is one named parameter tensor, flattened, with its gradient.
// Embedding marks the parameters clipped by the embedding gradient clip.
type Param struct {
	Name      string
	Data      []float64
	Grad      []float64
	Embedding bool
}

// Optimizer updates parameters in place.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step(params []*Param)
	// Spec returns the hyperparameters in use.
	Spec() config.OptimizerSpec
	// SetSpec replaces the hyperparameters and keeps the accumulated state.
	// The kind must not change.
	SetSpec(spec config.OptimizerSpec) error
	// State returns a copy of the accumulated state.
	State() State
	// LoadState replaces the accumulated state.
	LoadState(state State) error
}

// ErrKindMismatch is returned when state or a spec of another optimizer kind
// is given to an optimizer.
var ErrKindMismatch = errors.New("learning: optimizer kind mismatch")

// New builds a fresh optimizer for spec.
func New(spec config.OptimizerSpec) (Optimizer, error) {
	if spec.LR <= 0 {
		return nil, errors.Errorf("learning: %s requires a positive lr, got %v", spec.Kind, spec.LR)
	}
	b := base{spec: spec, slots: make(map[string]map[string][]float64)}
	switch spec.Kind {
	case config.SGD:
		return &SGD{base: b}, nil
	case config.Adam:
		return &Adam{base: b}, nil
	case config.Adagrad:
		return &Adagrad{base: b}, nil
	case config.RMSprop:
		return &RMSprop{base: b}, nil
	}
	return nil, errors.Errorf("learning: unknown optimizer %q", spec.Kind)
}

// Restore builds an optimizer for state.Spec and loads state into it.
func Restore(state State) (Optimizer, error) {
	opt, err := New(state.Spec)
	if err != nil {
		return nil, err
	}
	if err := opt.LoadState(state); err != nil {
		return nil, err
	}
	return opt, nil
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// base carries what every optimizer shares: the spec, the step count and the
// per-parameter slots, keyed by slot name and then parameter name.
type base struct {
	spec  config.OptimizerSpec
	steps int
	slots map[string]map[string][]float64
}

func (b *base) Spec() config.OptimizerSpec {
	return b.spec
}

func (b *base) SetSpec(spec config.OptimizerSpec) error {
	if spec.Kind != b.spec.Kind {
		return errors.Wrapf(ErrKindMismatch, "cannot change %s to %s in place", b.spec.Kind, spec.Kind)
	}
	if spec.LR <= 0 {
		return errors.Errorf("learning: %s requires a positive lr, got %v", spec.Kind, spec.LR)
	}
	b.spec = spec
	return nil
}

func (b *base) State() State {
	s := State{Spec: b.spec, Steps: b.steps, Slots: make(map[string]map[string][]float64, len(b.slots))}
	for name, byParam := range b.slots {
		s.Slots[name] = make(map[string][]float64, len(byParam))
		for param, values := range byParam {
			s.Slots[name][param] = append([]float64(nil), values...)
		}
	}
	return s
}

func (b *base) LoadState(s State) error {
	if s.Spec.Kind != b.spec.Kind {
		return errors.Wrapf(ErrKindMismatch, "state of %s loaded into %s", s.Spec.Kind, b.spec.Kind)
	}
	loaded := s.clone()
	b.steps = loaded.Steps
	b.slots = loaded.Slots
	if b.slots == nil {
		b.slots = make(map[string]map[string][]float64)
	}
	return nil
}

// slot returns the named slot of p, allocating zeros on first use. The second
// result reports whether the slot already existed.
func (b *base) slot(name string, p *Param) ([]float64, bool) {
	byParam := b.slots[name]
	if byParam == nil {
		byParam = make(map[string][]float64)
		b.slots[name] = byParam
	}
	values, ok := byParam[p.Name]
	if ok && len(values) == len(p.Data) {
		return values, true
	}
	values = make([]float64, len(p.Data))
	byParam[p.Name] = values
	return values, false
}

// gradient returns g + weight_decay * w for element i.
func (b *base) gradient(p *Param, i int) float64 {
	g := p.Grad[i]
	if b.spec.WeightDecay != 0 {
		g += b.spec.WeightDecay * p.Data[i]
	}
	return g
}
