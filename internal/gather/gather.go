// Package gather implements a scatter-gather group that, unlike
// errgroup, never cancels siblings when one task fails: every task runs
// to completion and reports a value or an error in its own slot.
package gather

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned in every slot when the group deadline fires
// before the tasks finish.
var ErrTimeout = fmt.Errorf("gather group timed out")

// Result holds one task's outcome.
type Result[T any] struct {
	Value T
	Err   error
}

// Group runs tasks concurrently and collects per-slot results in add
// order. Zero value is not usable; call New.
type Group[T any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu      sync.Mutex
	wg      sync.WaitGroup
	results []Result[T]
	waited  bool
}

// New creates a group. A zero timeout means no group deadline.
func New[T any](ctx context.Context, timeout time.Duration) *Group[T] {
	gctx, cancel := context.WithCancel(ctx)
	return &Group[T]{ctx: gctx, cancel: cancel, timeout: timeout}
}

// Go adds a task. The slot index matches the call order. Tasks receive
// the group context, which is cancelled when the group times out.
func (g *Group[T]) Go(fn func(ctx context.Context) (T, error)) {
	g.mu.Lock()
	if g.waited {
		g.mu.Unlock()
		panic("gather: Go called after Wait")
	}
	idx := len(g.results)
	g.results = append(g.results, Result[T]{})
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.set(idx, Result[T]{Err: fmt.Errorf("task panicked: %v", r)})
			}
		}()
		v, err := fn(g.ctx)
		g.set(idx, Result[T]{Value: v, Err: err})
	}()
}

func (g *Group[T]) set(idx int, r Result[T]) {
	g.mu.Lock()
	g.results[idx] = r
	g.mu.Unlock()
}

// Wait blocks until all tasks finish or the group times out. On timeout
// every slot holds ErrTimeout, regardless of partial completion.
func (g *Group[T]) Wait() []Result[T] {
	g.mu.Lock()
	g.waited = true
	n := len(g.results)
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var timedOut bool
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			timedOut = true
			g.cancel()
		}
	} else {
		<-done
	}
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	if timedOut {
		out := make([]Result[T], n)
		timeoutErr := fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		for i := range out {
			out[i] = Result[T]{Err: timeoutErr}
		}
		return out
	}
	out := make([]Result[T], n)
	copy(out, g.results)
	return out
}
