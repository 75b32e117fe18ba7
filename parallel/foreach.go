// Package parallel contains the concurrency primitives used by training: a
// bounded ForEach and an ordered, bounded Prefetch queue.
package parallel

import (
	"sync"
	"sync/atomic"
)

// ForEach calls body for every i in [0, length) on at most limit goroutines
// and returns once all calls have returned.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}
	if limit > length {
		limit = length
	}
	var next int64 = -1
	var wg sync.WaitGroup
	wg.Add(limit)
	for n := 0; n < limit; n++ {
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1))
				if i >= length {
					return
				}
				body(i)
			}
		}()
	}
	wg.Wait()
}
