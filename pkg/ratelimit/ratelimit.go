package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Lock spaces out the calls to a remote service so that two consecutive
// calls start at least the configured wait apart. Calls in flight don't
// block each other.
type Lock interface {
	// Lock blocks until the caller may start its call and returns the
	// function to call once it is done. If ctx is done first, Lock returns
	// right away.
	Lock(ctx context.Context) func()
}

type lock struct {
	limiter *rate.Limiter
}

// New returns a lock that allows one call start every wait. A zero or
// negative wait disables the limit.
func New(wait time.Duration) Lock {
	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	return &lock{
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (l *lock) Lock(ctx context.Context) func() {
	_ = l.limiter.Wait(ctx)
	return func() {}
}
