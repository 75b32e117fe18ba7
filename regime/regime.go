// Package regime answers which optimizer spec is in force at an epoch of the
// optimization regime, and what has to happen to the optimizer when it changes.
package regime

import (
	"sort"

	"github.com/neurlang/seq2seq/config"
)

// DefaultKey is the key of the default spec, in force before the first entry.
const DefaultKey = -1

// Transition is what the optimizer needs when the spec in force changes.
type Transition int

const (
	// None keeps the optimizer as it is.
	None Transition = iota
	// Update replaces the hyperparameters and keeps the accumulated state.
	Update
	// Reset builds a fresh optimizer.
	Reset
)

func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case Update:
		return "update"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Scheduler looks up the regime. It is immutable.
type Scheduler struct {
	entries config.Regime
	def     config.OptimizerSpec
}

// New returns a scheduler over r; def is in force before the first entry.
func New(r config.Regime, def config.OptimizerSpec) *Scheduler {
	entries := append(config.Regime(nil), r...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Epoch < entries[j].Epoch })
	return &Scheduler{entries: entries, def: def}
}

// index of the entry in force at epoch, -1 before the first entry.
func (s *Scheduler) index(epoch int) int {
	return sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Epoch > epoch }) - 1
}

// KeyFor returns the epoch key of the entry in force at epoch, or DefaultKey.
func (s *Scheduler) KeyFor(epoch int) int {
	i := s.index(epoch)
	if i < 0 {
		return DefaultKey
	}
	return s.entries[i].Epoch
}

// EntryFor returns the entry in force at epoch. The second result is false when
// the default spec is in force.
func (s *Scheduler) EntryFor(epoch int) (config.RegimeEntry, bool) {
	i := s.index(epoch)
	if i < 0 {
		return config.RegimeEntry{Epoch: DefaultKey, Spec: s.def}, false
	}
	return s.entries[i], true
}

// SpecFor returns the spec of the greatest key not after epoch.
func (s *Scheduler) SpecFor(epoch int) config.OptimizerSpec {
	e, _ := s.EntryFor(epoch)
	return e.Spec
}

// ChangedAt reports whether the spec in force at epoch differs from the one at
// epoch-1. It is always true at epoch 0.
func (s *Scheduler) ChangedAt(epoch int) bool {
	if epoch <= 0 {
		return true
	}
	return s.SpecFor(epoch) != s.SpecFor(epoch-1)
}

// TransitionAt returns the transition entering epoch from epoch-1. Epoch 0
// always resets.
func (s *Scheduler) TransitionAt(epoch int) Transition {
	if epoch <= 0 {
		return Reset
	}
	return s.TransitionFrom(s.KeyFor(epoch-1), epoch)
}

// TransitionFrom returns the transition from the entry with key applied, the
// one last applied to the optimizer, to the entry in force at epoch.
func (s *Scheduler) TransitionFrom(applied, epoch int) Transition {
	key := s.KeyFor(epoch)
	if key == applied {
		return None
	}
	prev := s.specOf(applied)
	cur, _ := s.EntryFor(epoch)
	switch {
	case cur.Spec == prev:
		return None
	case cur.Reset, cur.Spec.Kind != prev.Kind:
		return Reset
	}
	return Update
}

func (s *Scheduler) specOf(key int) config.OptimizerSpec {
	for _, e := range s.entries {
		if e.Epoch == key {
			return e.Spec
		}
	}
	return s.def
}

// Keys returns the epoch keys in order.
func (s *Scheduler) Keys() []int {
	keys := make([]int, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.Epoch
	}
	return keys
}

func (s *Scheduler) String() string {
	return s.entries.String()
}
