package types

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelToken is a cooperative cancellation flag owned by one job.
// Operations poll it between chunks and phases; it never interrupts a call.
type CancelToken struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates an unset token
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the flag. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.flag.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.flag.Load()
}

// Done is closed when the token is cancelled
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Context derives a context from parent that also ends on token cancellation.
// It is meant for network calls that can be aborted safely.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if t == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
