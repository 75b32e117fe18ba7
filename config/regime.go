package config

import (
	"fmt"
	"sort"
	"strings"
)

// OptimizerKind names an optimization algorithm.
type OptimizerKind string

const (
	SGD     OptimizerKind = "SGD"
	Adam    OptimizerKind = "Adam"
	Adagrad OptimizerKind = "Adagrad"
	RMSprop OptimizerKind = "RMSprop"
)

// OptimizerKinds lists the supported optimizers.
var OptimizerKinds = []OptimizerKind{SGD, Adam, Adagrad, RMSprop}

// OptimizerSpec selects an optimizer and its hyperparameters. Fields that the
// kind does not use stay zero, so two specs are equal exactly when == holds.
type OptimizerSpec struct {
	Kind        OptimizerKind `json:"optimizer"`
	LR          float64       `json:"lr"`
	Momentum    float64       `json:"momentum,omitempty"`
	Dampening   float64       `json:"dampening,omitempty"`
	Nesterov    bool          `json:"nesterov,omitempty"`
	WeightDecay float64       `json:"weight_decay,omitempty"`
	Beta1       float64       `json:"beta1,omitempty"`
	Beta2       float64       `json:"beta2,omitempty"`
	Eps         float64       `json:"eps,omitempty"`
	Alpha       float64       `json:"alpha,omitempty"`
	LRDecay     float64       `json:"lr_decay,omitempty"`
}

// hyperparameters accepted per kind, by literal key.
var hyperparameters = map[OptimizerKind][]string{
	SGD:     {"lr", "momentum", "dampening", "nesterov", "weight_decay"},
	Adam:    {"lr", "betas", "eps", "weight_decay"},
	Adagrad: {"lr", "lr_decay", "eps", "weight_decay"},
	RMSprop: {"lr", "alpha", "eps", "momentum", "weight_decay"},
}

// DefaultOptimizerSpec is used for epochs before the first regime entry.
func DefaultOptimizerSpec() OptimizerSpec {
	return OptimizerSpec{Kind: SGD, LR: 0.1, Momentum: 0.9}
}

// OptimizerDefaults returns the hyperparameter defaults of kind. SGD has no
// default learning rate.
func OptimizerDefaults(kind OptimizerKind) OptimizerSpec {
	switch kind {
	case Adam:
		return OptimizerSpec{Kind: Adam, LR: 1e-3, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	case Adagrad:
		return OptimizerSpec{Kind: Adagrad, LR: 1e-2, Eps: 1e-10}
	case RMSprop:
		return OptimizerSpec{Kind: RMSprop, LR: 1e-2, Alpha: 0.99, Eps: 1e-8}
	}
	return OptimizerSpec{Kind: kind}
}

func (s OptimizerSpec) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{'optimizer': '%s', 'lr': %s", s.Kind, FormatLiteral(s.LR))
	for _, key := range hyperparameters[s.Kind] {
		if key == "lr" {
			continue
		}
		fmt.Fprintf(&b, ", '%s': %s", key, FormatLiteral(s.get(key)))
	}
	b.WriteByte('}')
	return b.String()
}

func (s OptimizerSpec) get(key string) interface{} {
	switch key {
	case "lr":
		return s.LR
	case "momentum":
		return s.Momentum
	case "dampening":
		return s.Dampening
	case "nesterov":
		return s.Nesterov
	case "weight_decay":
		return s.WeightDecay
	case "betas":
		return Tuple{s.Beta1, s.Beta2}
	case "eps":
		return s.Eps
	case "alpha":
		return s.Alpha
	case "lr_decay":
		return s.LRDecay
	}
	return nil
}

// set assigns the literal value of key, checking its type and range.
func (s *OptimizerSpec) set(key string, v interface{}) error {
	if key == "nesterov" {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("nesterov is %s, want bool", typeName(v))
		}
		s.Nesterov = b
		return nil
	}
	if key == "betas" {
		var pair []interface{}
		switch x := v.(type) {
		case Tuple:
			pair = x
		case List:
			pair = x
		}
		if len(pair) != 2 {
			return fmt.Errorf("betas is %s, want a pair of floats", FormatLiteral(v))
		}
		b1, ok1 := number(pair[0])
		b2, ok2 := number(pair[1])
		if !ok1 || !ok2 || b1 < 0 || b1 >= 1 || b2 < 0 || b2 >= 1 {
			return fmt.Errorf("betas %s out of range [0, 1)", FormatLiteral(v))
		}
		s.Beta1, s.Beta2 = b1, b2
		return nil
	}
	f, ok := number(v)
	if !ok {
		return fmt.Errorf("%s is %s, want float", key, typeName(v))
	}
	if f < 0 {
		return fmt.Errorf("%s is negative", key)
	}
	switch key {
	case "lr":
		s.LR = f
	case "momentum":
		s.Momentum = f
	case "dampening":
		s.Dampening = f
	case "weight_decay":
		s.WeightDecay = f
	case "eps":
		s.Eps = f
	case "alpha":
		s.Alpha = f
	case "lr_decay":
		s.LRDecay = f
	}
	return nil
}

func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// RegimeEntry is the optimizer spec that becomes active at Epoch. Reset is set
// when the entry names an optimizer, which asks for fresh optimizer state.
type RegimeEntry struct {
	Epoch int           `json:"epoch"`
	Spec  OptimizerSpec `json:"spec"`
	Reset bool          `json:"reset,omitempty"`
}

// Regime is the optimization regime, sorted by epoch.
type Regime []RegimeEntry

func (r Regime) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range r {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d: %s", e.Epoch, e.Spec)
	}
	b.WriteByte('}')
	return b.String()
}

// ResolveRegime parses an optimization regime such as
//
//	{0: {'optimizer': 'SGD', 'lr': 0.1, 'momentum': 0.9}, 3: {'lr': 0.01}}
//
// Entries are applied in epoch order and are sticky: an entry inherits every
// hyperparameter it does not set from the entry before it, the first one from
// DefaultOptimizerSpec. Naming an optimizer starts from that optimizer's
// defaults instead, keeping the hyperparameters of a previous entry it accepts.
func ResolveRegime(text string) (Regime, error) {
	m, err := ResolveMapping(FragmentRegime, text)
	if err != nil {
		return nil, err
	}
	type raw struct {
		epoch    int
		settings *Mapping
	}
	var entries []raw
	for _, item := range m.Items {
		epoch, ok := item.Key.(int64)
		if !ok || epoch < 0 {
			return nil, newError(FragmentRegime, "epoch key %s must be a non-negative int", FormatLiteral(item.Key))
		}
		settings, ok := item.Value.(*Mapping)
		if !ok {
			return nil, newError(FragmentRegime, "epoch %d: settings are %s, want dict", epoch, typeName(item.Value))
		}
		entries = append(entries, raw{epoch: int(epoch), settings: settings})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].epoch < entries[j].epoch })

	regime := make(Regime, 0, len(entries))
	prev := DefaultOptimizerSpec()
	for i, e := range entries {
		spec, reset, err := resolveEntry(prev, e.settings, i > 0)
		if err != nil {
			return nil, newError(FragmentRegime, "epoch %d: %v", e.epoch, err)
		}
		regime = append(regime, RegimeEntry{Epoch: e.epoch, Spec: spec, Reset: reset})
		prev = spec
	}
	return regime, nil
}

func resolveEntry(prev OptimizerSpec, settings *Mapping, carry bool) (spec OptimizerSpec, reset bool, err error) {
	spec = prev
	if v, ok := settings.Get("optimizer"); ok {
		name, ok := v.(string)
		if !ok {
			return spec, false, fmt.Errorf("optimizer is %s, want str", typeName(v))
		}
		kind, err := ParseOptimizerKind(name)
		if err != nil {
			return spec, false, err
		}
		spec = OptimizerDefaults(kind)
		for _, key := range hyperparameters[kind] {
			if carry && accepts(prev.Kind, key) {
				if err := spec.set(key, prev.get(key)); err != nil {
					return spec, false, err
				}
			}
		}
		reset = true
	}
	for _, item := range settings.Items {
		key, ok := item.Key.(string)
		if !ok {
			return spec, false, fmt.Errorf("setting name %s is %s, want str", FormatLiteral(item.Key), typeName(item.Key))
		}
		if key == "optimizer" {
			continue
		}
		if !accepts(spec.Kind, key) {
			return spec, false, fmt.Errorf("%s does not accept %q", spec.Kind, key)
		}
		if err := spec.set(key, item.Value); err != nil {
			return spec, false, err
		}
	}
	if spec.LR <= 0 {
		return spec, false, fmt.Errorf("%s requires a positive lr", spec.Kind)
	}
	return spec, reset, nil
}

func accepts(kind OptimizerKind, key string) bool {
	for _, k := range hyperparameters[kind] {
		if k == key {
			return true
		}
	}
	return false
}

// ParseOptimizerKind matches name against the supported optimizers, ignoring
// case.
func ParseOptimizerKind(name string) (OptimizerKind, error) {
	for _, kind := range OptimizerKinds {
		if strings.EqualFold(string(kind), name) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown optimizer %q", name)
}
