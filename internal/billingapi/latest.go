package billingapi

import (
	"context"
	"sync"
)

// Latest hands out generations to overlapping fetches of the same view.
// Starting a new fetch cancels the previous one, and a result whose
// generation is no longer current must be dropped.
type Latest struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Begin starts a new generation, cancelling any fetch still running. Call the
// returned function when the fetch is finished.
func (l *Latest) Begin(ctx context.Context) (context.Context, uint64, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	return ctx, gen, func() {
		l.mu.Lock()
		if l.gen == gen {
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel()
	}
}

// Current reports whether gen is still the newest generation.
func (l *Latest) Current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

// Fetch runs fn under a new generation. ok is false when a newer fetch
// started before fn returned; v and err must then be ignored.
func Fetch[T any](ctx context.Context, l *Latest, fn func(context.Context) (T, error)) (v T, ok bool, err error) {
	ctx, gen, done := l.Begin(ctx)
	defer done()

	v, err = fn(ctx)
	if !l.Current(gen) {
		var zero T
		return zero, false, nil
	}
	return v, true, err
}
