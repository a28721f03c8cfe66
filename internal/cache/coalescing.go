package cache

import (
	"context"
	"fmt"
	"sync"
)

// flightCall is one recomputation that any number of callers may wait on.
type flightCall struct {
	done  chan struct{}
	value string
	err   error
}

// flightGroup runs at most one recomputation per key at a time. Callers that
// arrive while a recomputation is running wait for its result.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// do runs fn for key unless a run is already in flight, in which case it
// waits for that run. shared reports whether the result came from another
// caller's run. fn keeps running if ctx is cancelled; only the wait is
// abandoned.
func (g *flightGroup) do(ctx context.Context, key string, fn func() (string, error)) (value string, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return wait(ctx, c, true)
	}
	c := &flightCall{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.value, c.err = "", fmt.Errorf("recompute %s: panic: %v", key, r)
			}
			// Remove before signalling so a caller woken by done never joins
			// this finished call.
			g.mu.Lock()
			delete(g.calls, key)
			g.mu.Unlock()
			close(c.done)
		}()
		c.value, c.err = fn()
	}()

	return wait(ctx, c, false)
}

func wait(ctx context.Context, c *flightCall, shared bool) (string, bool, error) {
	select {
	case <-c.done:
		return c.value, shared, c.err
	case <-ctx.Done():
		return "", shared, ctx.Err()
	}
}

// inFlight reports how many keys are currently being recomputed.
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
