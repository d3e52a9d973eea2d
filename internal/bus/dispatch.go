package bus

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// spinIterations bounds how many times a dispatch loop retries
// TryRead before parking on the buffer's condition variable.
const spinIterations = 64

// Subscription is the shape both ImmutableSubscription and
// MutableSubscription satisfy, letting Run dispatch either one
// without knowing which.
type Subscription[T any] interface {
	TryRead() (T, int64, bool)
	Cursor() *Cursor
	Wait(cancelled func() bool)
	Close()
}

// FailureHandler is invoked when a consumer callback returns an error
// or panics. The cursor still advances; the failure is never
// propagated to the producer.
type FailureHandler func(err error)

// Run drives a single consumer's dispatch loop: spin, spin-wait, park,
// repeat, until ctx is cancelled or the subscription's cursor is
// cancelled. On exit it unsubscribes the consumer.
func Run[T any](ctx context.Context, sub Subscription[T], handle func(context.Context, T, int64) error, onFailure FailureHandler) {
	defer sub.Close()

	for {
		if ctx.Err() != nil || sub.Cursor().Cancelled() {
			return
		}

		if dispatchOne(ctx, sub, handle, onFailure) {
			continue
		}

		spun := false
		for i := 0; i < spinIterations; i++ {
			if ctx.Err() != nil || sub.Cursor().Cancelled() {
				return
			}
			if dispatchOne(ctx, sub, handle, onFailure) {
				spun = true
				break
			}
		}
		if spun {
			continue
		}

		sub.Wait(func() bool {
			return ctx.Err() != nil || sub.Cursor().Cancelled()
		})
	}
}

func dispatchOne[T any](ctx context.Context, sub Subscription[T], handle func(context.Context, T, int64) error, onFailure FailureHandler) bool {
	msg, seq, ok := sub.TryRead()
	if !ok {
		return false
	}

	func() {
		defer func() {
			if r := recover(); r != nil && onFailure != nil {
				onFailure(&CallbackFailure{
					Consumer: sub.Cursor().Name(),
					Cause:    fmt.Errorf("panic: %v", r),
				})
			}
		}()
		if err := handle(ctx, msg, seq); err != nil && onFailure != nil {
			onFailure(&CallbackFailure{Consumer: sub.Cursor().Name(), Cause: err})
		}
	}()

	return true
}

// Group manages a set of dispatch goroutines and waits for them to
// exit within a bounded grace period on shutdown, the way the rest of
// the module composes goroutine lifecycles with context cancellation.
type Group struct {
	eg    *errgroup.Group
	grace time.Duration
}

// NewGroup constructs a Group with the given shutdown grace period.
func NewGroup(grace time.Duration) *Group {
	return &Group{eg: &errgroup.Group{}, grace: grace}
}

// Go starts fn in its own goroutine. Unlike errgroup.WithContext, one
// goroutine's failure never cancels the others — per-consumer failures
// are isolated from each other just as they are from the producer.
func (g *Group) Go(fn func() error) {
	g.eg.Go(fn)
}

// Shutdown waits up to the configured grace period for every started
// goroutine to return. It returns ErrShutdownGraceExpired if the grace
// period elapses first; callers are expected to have already signalled
// cancellation (e.g. via context cancellation and per-cursor Cancel)
// before calling Shutdown.
func (g *Group) Shutdown() error {
	done := make(chan error, 1)
	go func() { done <- g.eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(g.grace):
		return ErrShutdownGraceExpired
	}
}
