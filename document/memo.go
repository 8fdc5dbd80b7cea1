package document

import (
	"context"
	"sync"
)

// memo computes a value once and hands the cached result to every later
// caller. Concurrent callers wait for the first computation. Failures are
// not cached so the next caller retries.
type memo[T any] struct {
	mu sync.Mutex
	e  *memoEntry[T]
}

type memoEntry[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func (m *memo[T]) get(ctx context.Context, fn func() (T, error)) (T, error) {
	m.mu.Lock()
	e := m.e
	if e == nil {
		e = &memoEntry[T]{done: make(chan struct{})}
		m.e = e
		m.mu.Unlock()

		e.val, e.err = fn()
		if e.err != nil {
			m.mu.Lock()
			if m.e == e {
				m.e = nil
			}
			m.mu.Unlock()
		}
		close(e.done)
		return e.val, e.err
	}
	m.mu.Unlock()

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (m *memo[T]) reset() {
	m.mu.Lock()
	m.e = nil
	m.mu.Unlock()
}

// memoMap is a memo per key.
type memoMap[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*memo[V]
}

func (mm *memoMap[K, V]) get(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	mm.mu.Lock()
	if mm.m == nil {
		mm.m = make(map[K]*memo[V])
	}
	e, ok := mm.m[key]
	if !ok {
		e = &memo[V]{}
		mm.m[key] = e
	}
	mm.mu.Unlock()
	return e.get(ctx, fn)
}

func (mm *memoMap[K, V]) reset() {
	mm.mu.Lock()
	mm.m = nil
	mm.mu.Unlock()
}
