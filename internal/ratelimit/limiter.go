package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 20
	DefaultWindow = 30 * time.Minute
)

type Policy struct {
	Limit  int           // tokens per window
	Window time.Duration // time until a spent budget is fully replenished
}

func DefaultPolicy() Policy {
	return Policy{Limit: DefaultLimit, Window: DefaultWindow}
}

type Decision struct {
	Allowed   bool
	Limit     int       // budget per window
	Remaining int       // tokens left after this request (min 0)
	ResetAt   time.Time // when the budget is full again
}

// RetryAfter is the wait until ResetAt, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter is a per-key token budget. Allow consumes one token when one is
// available; Peek reports the same view without consuming.
type Limiter interface {
	Allow(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
	Peek(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
	Close() error
}

// Full is the decision for a key that has spent nothing.
func Full(p Policy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit,
		ResetAt:   now.Add(p.Window),
	}
}
