package parallel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrDone is returned by Queue.Next once every item has been handed out.
var ErrDone = errors.New("parallel: queue drained")

type result[T any] struct {
	value T
	err   error
}

// Queue hands out the items produced by Prefetch in index order.
type Queue[T any] struct {
	n       int
	next    int
	produce func(ctx context.Context, i int) (T, error)

	slots  []chan result[T]
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Prefetch produces the items 0..n-1 on workers goroutines, keeping at most
// depth items produced but not yet taken. Items are handed out by Next in
// index order regardless of which worker finished first. With no workers the
// items are produced by Next itself.
func Prefetch[T any](ctx context.Context, n, workers, depth int, produce func(ctx context.Context, i int) (T, error)) *Queue[T] {
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue[T]{n: n, produce: produce, ctx: ctx, cancel: cancel}
	if workers <= 0 || n <= 0 {
		return q
	}
	if depth < workers {
		depth = workers
	}
	q.slots = make([]chan result[T], n)
	for i := range q.slots {
		q.slots[i] = make(chan result[T], 1)
	}
	q.sem = make(chan struct{}, depth)
	jobs := make(chan int)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case q.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	q.wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer q.wg.Done()
			for i := range jobs {
				v, err := produce(ctx, i)
				q.slots[i] <- result[T]{value: v, err: err}
			}
		}()
	}
	return q
}

// Len returns the number of items.
func (q *Queue[T]) Len() int {
	return q.n
}

// Next blocks until the next item in order is ready. It returns ErrDone after
// the last item, and the context error when ctx or the queue is canceled.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if q.next >= q.n {
		return zero, ErrDone
	}
	if err := q.ctx.Err(); err != nil {
		return zero, err
	}
	if q.slots == nil {
		v, err := q.produce(ctx, q.next)
		q.next++
		return v, err
	}
	select {
	case r := <-q.slots[q.next]:
		q.slots[q.next] = nil
		q.next++
		<-q.sem
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.ctx.Done():
		return zero, q.ctx.Err()
	}
}

// Close stops the workers and waits for them to return. Items not yet taken
// are discarded.
func (q *Queue[T]) Close() {
	q.cancel()
	q.wg.Wait()
}
