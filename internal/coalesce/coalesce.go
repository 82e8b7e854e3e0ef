// Package coalesce collapses concurrent requests for the same key into a
// single in-flight factory invocation, so that N callers asking for the
// same image pull or artifact build only pay its cost once.
package coalesce

import (
	"context"
	"sync"
)

type call[R any] struct {
	done   chan struct{}
	result R
	err    error
}

// Group coalesces concurrent Run calls sharing the same key K into one
// factory invocation, returning its shared result R to every caller.
type Group[K comparable, R any] struct {
	mu       sync.Mutex
	inFlight map[K]*call[R]
}

// NewGroup constructs an empty coalescing group.
func NewGroup[K comparable, R any]() *Group[K, R] {
	return &Group[K, R]{inFlight: make(map[K]*call[R])}
}

// Run executes factory for key if no call for that key is already in
// flight, otherwise joins the existing call. It returns (zero, false,
// ctx.Err()) if ctx is done before a result is available, or (result,
// true, err) once one is. A cancelled caller never cancels the factory or
// other waiters; the in-flight entry is removed once its factory returns,
// so a later call with the same key starts fresh.
func (g *Group[K, R]) Run(ctx context.Context, key K, factory func(context.Context) (R, error)) (R, bool, error) {
	g.mu.Lock()
	if c, ok := g.inFlight[key]; ok {
		g.mu.Unlock()
		return waitOn(ctx, c)
	}

	c := &call[R]{done: make(chan struct{})}
	g.inFlight[key] = c
	g.mu.Unlock()

	go func() {
		c.result, c.err = factory(context.WithoutCancel(ctx))
		close(c.done)

		g.mu.Lock()
		delete(g.inFlight, key)
		g.mu.Unlock()
	}()

	return waitOn(ctx, c)
}

func waitOn[R any](ctx context.Context, c *call[R]) (R, bool, error) {
	select {
	case <-c.done:
		return c.result, true, c.err
	case <-ctx.Done():
		var zero R
		return zero, false, ctx.Err()
	}
}
