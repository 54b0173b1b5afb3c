package pd0

import (
	"context"
	"sync"
	"sync/atomic"
)

// forEachEnsemble calls fn for ensembles [0, n) on up to workers goroutines.
// fn reports ok=false with the health describing why ensemble i cannot be
// decoded. The returned health is the one of the lowest failing ensemble, so
// callers keep exactly the prefix a sequential pass would have kept.
func forEachEnsemble(ctx context.Context, n, workers int, fn func(i int) (Health, bool)) Health {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return unknownIO(i, err)
			}
			if h, ok := fn(i); !ok {
				return h
			}
		}
		return healthy(n)
	}

	var (
		mu      sync.Mutex
		first   = n
		failure Health
		limit   atomic.Int64
		wg      sync.WaitGroup
	)
	limit.Store(int64(n))
	record := func(i int, h Health) {
		mu.Lock()
		if i < first {
			first = i
			failure = h
			limit.Store(int64(i))
		}
		mu.Unlock()
	}

	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		lo := lo // per-iteration copy; go directive is 1.21 (pre-1.22 loopvar semantics)
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				// Anything past a known failure is discarded anyway.
				if int64(i) >= limit.Load() {
					return
				}
				if err := ctx.Err(); err != nil {
					record(i, unknownIO(i, err))
					return
				}
				if h, ok := fn(i); !ok {
					record(i, h)
					return
				}
			}
		}()
	}
	wg.Wait()

	if first < n {
		return failure
	}
	return healthy(n)
}
