package synthetic

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/config"
	"github.com/neurlang/seq2seq/datasets"
)

// Name is the registered dataset name.
const Name = "SyntheticCopy"

func init() {
	datasets.Register(Name, Open)
}

// Options of the dataset, read from the data options.
type Options struct {
	NumSymbols int
	Train      int
	Dev        int
	MinLength  int
	MaxLength  int
	Seed       int64
	Reverse    bool
}

// DefaultOptions returns the options used for keys the data options omit.
func DefaultOptions() Options {
	return Options{NumSymbols: 32, Train: 2000, Dev: 200, MinLength: 3, MaxLength: 12, Seed: 1}
}

// ParseOptions reads Options from the data options. The tokenization and
// shared_vocab keys of other datasets are accepted and ignored.
func ParseOptions(m *config.Mapping) (o Options, err error) {
	o = DefaultOptions()
	if err = datasets.CheckOptions(m, "num_symbols", "size", "dev_size", "min_length", "max_length", "seed", "reverse", "tokenization", "shared_vocab"); err != nil {
		return o, err
	}
	if o.NumSymbols, err = m.Int("num_symbols", o.NumSymbols); err != nil {
		return o, err
	}
	if o.Train, err = m.Int("size", o.Train); err != nil {
		return o, err
	}
	if o.Dev, err = m.Int("dev_size", o.Dev); err != nil {
		return o, err
	}
	if o.MinLength, err = m.Int("min_length", o.MinLength); err != nil {
		return o, err
	}
	if o.MaxLength, err = m.Int("max_length", o.MaxLength); err != nil {
		return o, err
	}
	seed, err := m.Int("seed", int(o.Seed))
	if err != nil {
		return o, err
	}
	o.Seed = int64(seed)
	if o.Reverse, err = m.Bool("reverse", o.Reverse); err != nil {
		return o, err
	}
	// num_symbols counts the whole vocabulary in the textual datasets; here
	// it is capped to what a generated corpus can use.
	if o.NumSymbols > 1024 {
		o.NumSymbols = 1024
	}
	switch {
	case o.NumSymbols < 1:
		err = errors.Errorf("num_symbols %d must be positive", o.NumSymbols)
	case o.Train < 1 || o.Dev < 1:
		err = errors.Errorf("size %d and dev_size %d must be positive", o.Train, o.Dev)
	case o.MinLength < 1 || o.MaxLength < o.MinLength:
		err = errors.Errorf("lengths [%d, %d] are not a valid range", o.MinLength, o.MaxLength)
	}
	if err != nil {
		return o, errors.Wrap(config.ErrConfig, err.Error())
	}
	return o, nil
}

// Dataset generates its examples on demand from the seed and the index, so
// every example is reproducible.
type Dataset struct {
	opts  Options
	vocab *datasets.Vocab
}

// Open is the datasets.Factory. The directory is not used.
func Open(_ string, options *config.Mapping) (datasets.Dataset, error) {
	o, err := ParseOptions(options)
	if err != nil {
		return nil, err
	}
	return New(o)
}

// New returns the dataset for o.
func New(o Options) (*Dataset, error) {
	words := append([]string(nil), datasets.SpecialTokens...)
	for i := 0; i < o.NumSymbols; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	vocab, err := datasets.NewVocab(datasets.Word, words)
	if err != nil {
		return nil, err
	}
	return &Dataset{opts: o, vocab: vocab}, nil
}

func (d *Dataset) Len(split datasets.Split) int {
	if split == datasets.Dev {
		return d.opts.Dev
	}
	return d.opts.Train
}

func (d *Dataset) Example(split datasets.Split, i int) (datasets.Example, error) {
	if i < 0 || i >= d.Len(split) {
		return datasets.Example{}, errors.Errorf("synthetic: %s example %d out of range", split, i)
	}
	salt := int64(0)
	if split == datasets.Dev {
		salt = 1 << 40
	}
	rng := rand.New(rand.NewSource(d.opts.Seed*7919 + salt + int64(i)))
	n := d.opts.MinLength + rng.Intn(d.opts.MaxLength-d.opts.MinLength+1)
	src := make([]int, n)
	for k := range src {
		src[k] = len(datasets.SpecialTokens) + rng.Intn(d.opts.NumSymbols)
	}
	tgt := append([]int(nil), src...)
	if d.opts.Reverse {
		for a, b := 0, len(tgt)-1; a < b; a, b = a+1, b-1 {
			tgt[a], tgt[b] = tgt[b], tgt[a]
		}
	}
	return datasets.Example{Source: src, Target: tgt}, nil
}

func (d *Dataset) SourceTokenizer() datasets.Tokenizer { return d.vocab }
func (d *Dataset) TargetTokenizer() datasets.Tokenizer { return d.vocab }
