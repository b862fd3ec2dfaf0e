// Package redisstore keeps rate limit budgets in Redis so that several instances
// share one budget per client. Keys expire with the window, so no sweep runs.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/folio/internal/ratelimit"
)

// KEYS[1] budget key; ARGV[1] limit; ARGV[2] window in ms.
// Returns {allowed, remaining, pttl}.
var consume = redis.NewScript(`
local left = redis.call('GET', KEYS[1])
if not left then
  local limit = tonumber(ARGV[1])
  redis.call('SET', KEYS[1], limit - 1, 'PX', ARGV[2])
  return {1, limit - 1, tonumber(ARGV[2])}
end
local ttl = redis.call('PTTL', KEYS[1])
if tonumber(left) <= 0 then
  return {0, 0, ttl}
end
left = redis.call('DECR', KEYS[1])
return {1, left, ttl}
`)

type Limiter struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

type Option func(*Limiter)

func WithPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = strings.Trim(prefix, ":") }
}

// WithOwnership makes Close also close the client.
func WithOwnership() Option {
	return func(l *Limiter) { l.owned = true }
}

func New(rdb *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{rdb: rdb, prefix: "folio:ratelimit"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) key(k string) string { return l.prefix + ":" + k }

func (l *Limiter) Allow(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return ratelimit.Full(ratelimit.DefaultPolicy(), now), nil
	}

	res, err := consume.Run(ctx, l.rdb, []string{l.key(key)}, p.Limit, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("consume token for %q: %w", key, err)
	}
	if len(res) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("consume token for %q: unexpected reply %v", key, res)
	}

	return ratelimit.Decision{
		Allowed:   res[0] == 1,
		Limit:     p.Limit,
		Remaining: clamp(int(res[1]), p.Limit),
		ResetAt:   resetAt(now, time.Duration(res[2])*time.Millisecond, p.Window),
	}, nil
}

func (l *Limiter) Peek(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return ratelimit.Full(ratelimit.DefaultPolicy(), now), nil
	}

	pipe := l.rdb.Pipeline()
	get := pipe.Get(ctx, l.key(key))
	ttl := pipe.PTTL(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ratelimit.Decision{}, fmt.Errorf("peek budget for %q: %w", key, err)
	}

	left, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return ratelimit.Full(p, now), nil
	}
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("peek budget for %q: %w", key, err)
	}

	left = clamp(left, p.Limit)
	return ratelimit.Decision{
		Allowed:   left > 0,
		Limit:     p.Limit,
		Remaining: left,
		ResetAt:   resetAt(now, ttl.Val(), p.Window),
	}, nil
}

func (l *Limiter) Close() error {
	if l.owned {
		return l.rdb.Close()
	}
	return nil
}

func clamp(v, limit int) int {
	return max(0, min(v, limit))
}

// resetAt turns a PTTL reply into a timestamp. Negative replies mean the key
// has no expiry, which the script never leaves behind; fall back to a window.
func resetAt(now time.Time, ttl, window time.Duration) time.Time {
	if ttl < 0 {
		return now.Add(window)
	}
	return now.Add(ttl)
}
