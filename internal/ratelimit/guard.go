package ratelimit

import (
	"context"
	"strings"
	"time"
)

const UnknownClient = "unknown"

var loopback = map[string]struct{}{
	"127.0.0.1": {},
	"::1":       {},
	"localhost": {},
}

// ClientKey reduces a raw client address to the limiter key: the first
// colon-delimited segment, trimmed. This strips ports and, heuristically,
// IPv6 suffixes.
func ClientKey(raw string) string {
	key := strings.TrimSpace(raw)
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	if key == "" {
		return UnknownClient
	}
	return key
}

// IsLoopback reports whether raw names the local machine. Both the raw value
// and its key are checked since ClientKey reduces "::1" to nothing.
func IsLoopback(raw string) bool {
	raw = strings.TrimSpace(raw)
	if _, ok := loopback[raw]; ok {
		return true
	}
	_, ok := loopback[ClientKey(raw)]
	return ok
}

// Guard applies one policy to client identifiers on top of a Limiter backend.
type Guard struct {
	lim            Limiter
	policy         Policy
	bypassLoopback bool
	now            func() time.Time
}

type GuardOption func(*Guard)

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLoopbackBypass toggles the local-development bypass (on by default).
func WithLoopbackBypass(on bool) GuardOption {
	return func(g *Guard) { g.bypassLoopback = on }
}

func NewGuard(lim Limiter, p Policy, opts ...GuardOption) *Guard {
	if p.Limit <= 0 || p.Window <= 0 {
		p = DefaultPolicy()
	}
	g := &Guard{
		lim:            lim,
		policy:         p,
		bypassLoopback: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Policy() Policy { return g.policy }

func (g *Guard) Now() time.Time { return g.now() }

// Check consumes one token for identifier and reports the resulting budget.
func (g *Guard) Check(ctx context.Context, identifier string) (Decision, error) {
	now := g.now()
	if g.bypassLoopback && IsLoopback(identifier) {
		return Full(g.policy, now), nil
	}
	return g.lim.Allow(ctx, ClientKey(identifier), g.policy, now)
}

// Status reports the budget for identifier without consuming a token.
func (g *Guard) Status(ctx context.Context, identifier string) (Decision, error) {
	now := g.now()
	if g.bypassLoopback && IsLoopback(identifier) {
		return Full(g.policy, now), nil
	}
	return g.lim.Peek(ctx, ClientKey(identifier), g.policy, now)
}
