package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AlexKimmel/folio/internal/ratelimit"
)

// bucket is one key's budget. tokens only go back to the limit once resetAt
// has passed; resetAt is zero while the budget is untouched.
type bucket struct {
	mu      sync.Mutex
	limit   int
	tokens  int
	resetAt time.Time
	dead    bool // removed by Sweep, callers must reload
}

func (b *bucket) refill(now time.Time) {
	if !b.resetAt.IsZero() && !now.Before(b.resetAt) {
		b.tokens = b.limit
		b.resetAt = time.Time{}
	}
}

func (b *bucket) full(now time.Time) bool {
	return b.tokens >= b.limit || (!b.resetAt.IsZero() && !now.Before(b.resetAt))
}

type Limiter struct {
	bucket sync.Map // key -> *bucket

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Limiter {
	return &Limiter{}
}

// Start runs Sweep every interval until ctx is done or Close is called.
func (l *Limiter) Start(ctx context.Context, every time.Duration, onSweep func(removed, kept int)) {
	if every <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)

	t := time.NewTicker(every)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				removed := l.Sweep(now)
				if onSweep != nil {
					onSweep(removed, l.Len())
				}
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit.
func (l *Limiter) Close() error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		l.wg.Wait()
	}
	return nil
}

// load returns the live bucket for key, locked. A bucket deleted by Sweep
// between lookup and lock is skipped and a new one takes its place.
func (l *Limiter) load(key string, p ratelimit.Policy) *bucket {
	for {
		v, ok := l.bucket.Load(key)
		if !ok {
			v, _ = l.bucket.LoadOrStore(key, &bucket{limit: p.Limit, tokens: p.Limit})
		}
		b := v.(*bucket)
		b.mu.Lock()
		if !b.dead {
			return b
		}
		b.mu.Unlock()
	}
}

func (l *Limiter) Allow(_ context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return ratelimit.Full(ratelimit.DefaultPolicy(), now), nil
	}

	b := l.load(key, p)
	defer b.mu.Unlock()

	if b.limit != p.Limit {
		b.limit = p.Limit
		b.tokens = min(b.tokens, p.Limit)
	}
	b.refill(now)

	allow := b.tokens >= 1
	if allow {
		if b.resetAt.IsZero() {
			b.resetAt = now.Add(p.Window)
		}
		b.tokens--
	}

	return b.decision(allow, now, p), nil
}

func (l *Limiter) Peek(_ context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return ratelimit.Full(ratelimit.DefaultPolicy(), now), nil
	}

	v, ok := l.bucket.Load(key)
	if !ok {
		return ratelimit.Full(p, now), nil
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead || b.full(now) {
		return ratelimit.Full(p, now), nil
	}
	view := bucket{limit: p.Limit, tokens: min(b.tokens, p.Limit), resetAt: b.resetAt}
	return view.decision(view.tokens >= 1, now, p), nil
}

func (b *bucket) decision(allowed bool, now time.Time, p ratelimit.Policy) ratelimit.Decision {
	reset := b.resetAt
	if reset.IsZero() {
		reset = now.Add(p.Window)
	}
	return ratelimit.Decision{
		Allowed:   allowed,
		Limit:     p.Limit,
		Remaining: max(b.tokens, 0),
		ResetAt:   reset,
	}
}

// Sweep deletes every bucket that is back at full budget and returns how
// many were removed. Deletion happens under the bucket's lock so an in-flight
// Allow either finishes first or moves on to a fresh bucket.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	l.bucket.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		if !b.dead && b.full(now) {
			b.dead = true
			l.bucket.CompareAndDelete(k, b)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len counts tracked keys.
func (l *Limiter) Len() int {
	n := 0
	l.bucket.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
