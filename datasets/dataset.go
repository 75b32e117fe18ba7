// Package datasets defines the datasets a run trains on, the tokenizers that
// turn their text into token ids, and the loader that batches them.
package datasets

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
)

// Reserved token ids shared by every vocabulary.
const (
	PAD = 0
	UNK = 1
	BOS = 2
	EOS = 3
)

// SpecialTokens are the vocabulary entries of the reserved ids.
var SpecialTokens = []string{"<pad>", "<unk>", "<s>", "</s>"}

// Split selects the part of a dataset.
type Split string

const (
	Train Split = "train"
	Dev   Split = "dev"
)

// ErrExhausted signals the normal end of an epoch.
var ErrExhausted = errors.New("datasets: epoch exhausted")

// ErrUnknownDataset is returned by Open for names nobody registered.
var ErrUnknownDataset = errors.New("datasets: unknown dataset")

// Example is one tokenized source/target pair.
type Example struct {
	Source []int
	Target []int
}

// TokenizerDescriptor is the serializable form of a tokenizer, stored in
// checkpoints so a model can be evaluated with the vocabulary it was trained
// with.
type TokenizerDescriptor struct {
	Kind  string   `json:"kind"`
	Vocab []string `json:"vocab"`
}

// Tokenizer maps text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	VocabSize() int
	Descriptor() TokenizerDescriptor
}

// Dataset is a tokenized parallel corpus.
type Dataset interface {
	// Len returns the number of examples in split.
	Len(split Split) int
	// Example returns example i of split. It is called concurrently from the
	// loader's workers.
	Example(split Split, i int) (Example, error)
	SourceTokenizer() Tokenizer
	TargetTokenizer() Tokenizer
}

// Factory opens a dataset stored under dir with the given data options.
type Factory func(dir string, options *config.Mapping) (Dataset, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a dataset available by name. It panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("datasets: Register called twice for " + name)
	}
	registry[name] = f
}

// Names lists the registered datasets, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the dataset registered as name.
func Open(name, dir string, options *config.Mapping) (Dataset, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDataset, "%q", name)
	}
	return f(dir, options)
}
