// Package ratelimit bounds request rates per client. The router keys
// limits by client IP; the memory limiter suits single instances and
// the redis limiter shares a budget across replicas.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request is allowed for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is how long the caller should wait before trying
	// again. Zero when the request was allowed.
	RetryAfter time.Duration
}
