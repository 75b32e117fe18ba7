// Package models defines the interface between training and a sequence to
// sequence model, and the registry models are selected from by name.
package models

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
	"github.com/neurlang/seq2seq/learning"
)

// ErrUnknownModel is returned by New for names nobody registered.
var ErrUnknownModel = errors.New("models: unknown model")

// Result summarizes one forward pass over a batch.
type Result struct {
	// Loss is the mean negative log likelihood per target token.
	Loss float64
	// Tokens is the number of target tokens scored.
	Tokens int
	// Correct is the number of target tokens predicted exactly.
	Correct int
}

// Model is a trainable sequence to sequence model.
type Model interface {
	// Parameters returns the trainable parameters. The slice and the
	// parameters are owned by the model and stay valid for its lifetime.
	Parameters() []*learning.Param
	// Forward scores batch. With train set it also adds the gradient of
	// Loss to the gradients of the parameters; the caller zeroes them.
	Forward(batch datasets.Batch, train bool) (Result, error)
	String() string
}

// Factory builds a model from its options. The options carry the encoder and
// decoder vocabulary sizes under encoder.vocab_size and decoder.vocab_size.
type Factory func(options *config.Mapping) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a model available by name. It panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("models: Register called twice for " + name)
	}
	registry[name] = f
}

// Names lists the registered models, sorted.
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

// New builds the model registered as name.
func New(name string, options *config.Mapping) (Model, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
	return f(options)
}

// NumParameters counts the scalar parameters of m.
func NumParameters(m Model) int {
	var n int
	for _, p := range m.Parameters() {
		n += len(p.Data)
	}
	return n
}

// StateDict copies the parameters of m by name.
func StateDict(m Model) map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range m.Parameters() {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// LoadStateDict copies saved parameter values into m. Every parameter of m
// must be present with the same size.
func LoadStateDict(m Model, saved map[string][]float64) error {
	params := m.Parameters()
	for _, p := range params {
		values, ok := saved[p.Name]
		if !ok {
			return errors.Errorf("models: parameter %q missing from checkpoint", p.Name)
		}
		if len(values) != len(p.Data) {
			return errors.Errorf("models: parameter %q has %d values, checkpoint has %d", p.Name, len(p.Data), len(values))
		}
	}
	if len(saved) != len(params) {
		return errors.Errorf("models: checkpoint has %d parameters, model has %d", len(saved), len(params))
	}
	for _, p := range params {
		copy(p.Data, saved[p.Name])
	}
	return nil
}

// VocabSizes reads the vocabulary sizes injected into model options.
func VocabSizes(options *config.Mapping) (encoder, decoder int, err error) {
	enc, err := options.Mapping("encoder")
	if err != nil {
		return 0, 0, err
	}
	dec, err := options.Mapping("decoder")
	if err != nil {
		return 0, 0, err
	}
	if encoder, err = enc.Int("vocab_size", 0); err != nil {
		return 0, 0, err
	}
	if decoder, err = dec.Int("vocab_size", 0); err != nil {
		return 0, 0, err
	}
	if encoder <= 0 || decoder <= 0 {
		return 0, 0, errors.Wrapf(config.ErrConfig, "%s: encoder and decoder vocab_size must be positive, got %d and %d",
			config.FragmentModelConfig, encoder, decoder)
	}
	return encoder, decoder, nil
}

// InjectVocabSizes records the tokenizer vocabulary sizes in the model
// options: encoder.vocab_size, decoder.vocab_size and vocab_size, which is
// the decoder's.
func InjectVocabSizes(options *config.Mapping, encoder, decoder int) error {
	enc, err := options.EnsureMapping("encoder")
	if err != nil {
		return err
	}
	dec, err := options.EnsureMapping("decoder")
	if err != nil {
		return err
	}
	enc.Set("vocab_size", encoder)
	dec.Set("vocab_size", decoder)
	options.Set("vocab_size", decoder)
	return nil
}
