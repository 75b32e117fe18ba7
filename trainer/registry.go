package trainer

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// DefaultName is the name the Trainer in this package is registered under.
const DefaultName = "Seq2SeqTrainer"

// ErrUnknownTrainer is returned by Open for names nobody registered.
var ErrUnknownTrainer = errors.New("trainer: unknown trainer")

// Factory builds a trainer from options.
type Factory func(Options) (*Trainer, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a trainer available by name. It panics on duplicates.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("trainer: Register called twice for " + name)
	}
	factories[name] = f
}

// Names returns the registered trainer names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the trainer registered under name.
func Open(name string, opts Options) (*Trainer, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTrainer, "%q", name)
	}
	return f(opts)
}

func init() {
	Register(DefaultName, New)
}
