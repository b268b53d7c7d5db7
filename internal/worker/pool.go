// Package worker fans run-scoped work out over a bounded set of
// goroutines. The CLI uses it to verify many runs' event chains in a
// single pass.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Result pairs one key with whatever processing it produced. Results
// come back in input order regardless of which worker handled the key.
type Result[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// Pool runs a keyed fan-out with a fixed worker count.
type Pool[K comparable, V any] struct {
	workers int
}

// NewPool creates a pool. workers <= 0 means one worker per CPU.
func NewPool[K comparable, V any](workers int) *Pool[K, V] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool[K, V]{workers: workers}
}

// Process applies fn to every key and returns one result per key, in
// the order the keys were given. A key whose fn errors reports that
// error in its own result; it never aborts the rest of the batch.
func (p *Pool[K, V]) Process(keys []K, fn func(K) (V, error)) []Result[K, V] {
	if len(keys) == 0 {
		return nil
	}

	workers := p.workers
	if workers > len(keys) {
		workers = len(keys)
	}

	// Workers claim keys off a shared cursor; each result slot is
	// written by exactly one goroutine.
	results := make([]Result[K, V], len(keys))
	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(keys) {
					return
				}
				value, err := fn(keys[i])
				results[i] = Result[K, V]{Key: keys[i], Value: value, Err: err}
			}
		}()
	}
	wg.Wait()

	return results
}
