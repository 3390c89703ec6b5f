// Package groutine runs named, joinable goroutines. Names are attached as
// pprof labels so worker goroutines can be told apart in profiles and dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Handle tracks a goroutine started by Go.
type Handle struct {
	name string
	done chan struct{}
}

// Go starts fn in a goroutine labeled with name and returns a handle that
// can be joined.
//
//	h := groutine.Go(ctx, "hub-worker", func(ctx context.Context) {
//	    // work
//	})
//	h.Join()
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) *Handle {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	h := &Handle{
		name: name,
		done: make(chan struct{}),
	}
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer close(h.done)
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})

	return h
}

// Name returns the name the goroutine was started with.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Join blocks until the goroutine returns.
func (h *Handle) Join() {
	if h == nil {
		return
	}
	<-h.done
}

// Done returns a channel closed when the goroutine returns.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return h.done
}

// Exited reports whether the goroutine has returned.
func (h *Handle) Exited() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
