package datasets

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/neurlang/seq2seq/parallel"
)

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize int
	// Workers prepare batches concurrently. Zero prepares them on demand.
	Workers int
	// MaxLength truncates sources and targets. Zero disables truncation.
	MaxLength int
	// Shuffle permutes the examples once per epoch. The permutation depends
	// only on Seed and the epoch, so a resumed run sees the same batches.
	Shuffle bool
	Seed    int64
	// PackEncoderInputs orders each batch by decreasing source length.
	PackEncoderInputs bool
	// Prefetch bounds the batches prepared ahead of the consumer.
	Prefetch int
}

// Loader batches one split of a dataset.
type Loader struct {
	ds    Dataset
	split Split
	cfg   LoaderConfig
}

// NewLoader returns a loader over split.
func NewLoader(ds Dataset, split Split, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &Loader{ds: ds, split: split, cfg: cfg}
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.ds.Len(l.split)
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Order returns the example order of epoch.
func (l *Loader) Order(epoch int) []int {
	n := l.ds.Len(l.split)
	if !l.cfg.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(l.cfg.Seed + int64(epoch)*1000003))
	return rng.Perm(n)
}

// Epoch starts producing the batches of epoch, skipping the first skip
// batches. The iterator must be closed.
func (l *Loader) Epoch(ctx context.Context, epoch, skip int) *Iterator {
	order := l.Order(epoch)
	total := l.Len()
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	q := parallel.Prefetch(ctx, total-skip, l.cfg.Workers, l.cfg.Prefetch, func(ctx context.Context, i int) (Batch, error) {
		return l.batch(order, skip+i)
	})
	return &Iterator{q: q}
}

func (l *Loader) batch(order []int, index int) (Batch, error) {
	start := index * l.cfg.BatchSize
	end := start + l.cfg.BatchSize
	if end > len(order) {
		end = len(order)
	}
	b := Batch{Index: index, Examples: make([]Example, 0, end-start)}
	for _, i := range order[start:end] {
		e, err := l.ds.Example(l.split, i)
		if err != nil {
			return Batch{}, errors.Wrapf(err, "datasets: %s example %d", l.split, i)
		}
		if m := l.cfg.MaxLength; m > 0 {
			if len(e.Source) > m {
				e.Source = e.Source[:m]
			}
			if len(e.Target) > m {
				e.Target = e.Target[:m]
			}
		}
		b.Examples = append(b.Examples, e)
	}
	if l.cfg.PackEncoderInputs {
		packBySourceLength(b.Examples)
	}
	return b, nil
}

// Iterator yields the batches of one epoch in order.
type Iterator struct {
	q *parallel.Queue[Batch]
}

// Next blocks until the next batch is ready. It returns ErrExhausted at the
// end of the epoch.
func (it *Iterator) Next(ctx context.Context) (Batch, error) {
	b, err := it.q.Next(ctx)
	if errors.Is(err, parallel.ErrDone) {
		return Batch{}, ErrExhausted
	}
	return b, err
}

// Close releases the workers.
func (it *Iterator) Close() {
	it.q.Close()
}
