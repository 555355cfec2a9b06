// Package ratelimit implements named, windowed rate-limit rules keyed by
// (rule, key-type, key). Counters live in a pluggable store: in-memory for a
// single process, Redis when REDIS_URL points at one.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// KeyType scopes a rule's counters.
type KeyType string

const (
	KeyIP     KeyType = "ip"
	KeyUser   KeyType = "user"
	KeyGlobal KeyType = "global"
)

// Action is the behavior when a rule's window is exhausted.
type Action string

const (
	// Reject fails the call with rate_limited.
	Reject Action = "reject"
	// Delay holds the caller until the window resets (bounded by context).
	Delay Action = "delay"
)

// Rule is one named limit: at most Max hits per Window per key.
type Rule struct {
	Name     string
	Window   time.Duration
	Max      int64
	KeyType  KeyType
	OnExceed Action
}

// RuleAuthAttempts is the login guard: 5 attempts per 15 minutes per IP.
const RuleAuthAttempts = "auth_attempts"

// DefaultAuthAttempts returns the built-in login rule.
func DefaultAuthAttempts() Rule {
	return Rule{
		Name:     RuleAuthAttempts,
		Window:   15 * time.Minute,
		Max:      5,
		KeyType:  KeyIP,
		OnExceed: Reject,
	}
}

// Decision reports the state of a rule for a key after a check or hit.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	Rule      Rule
}

// RetryAfter is the wait until the window resets, floored at zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Limiter evaluates rules against a counter store.
type Limiter struct {
	mu    sync.RWMutex
	rules map[string]Rule
	store CounterStore

	now    func() time.Time
	logger *slog.Logger
}

// NewLimiter returns a limiter with the built-in rules registered.
func NewLimiter(store CounterStore) *Limiter {
	l := &Limiter{
		rules:  make(map[string]Rule),
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit"),
	}
	l.Register(DefaultAuthAttempts())
	return l
}

// WithClock overrides the time source for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Register adds or replaces a rule.
func (l *Limiter) Register(rule Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[rule.Name] = rule
}

func (l *Limiter) rule(name string) (Rule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rule, ok := l.rules[name]
	if !ok {
		return Rule{}, fmt.Errorf("ratelimit: unknown rule %q", name)
	}
	return rule, nil
}

func counterKey(rule Rule, key string) string {
	if rule.KeyType == KeyGlobal {
		key = "global"
	}
	return rule.Name + ":" + string(rule.KeyType) + ":" + key
}

// Check peeks at the window without consuming an attempt. Allowed means the
// key has headroom for at least one more hit.
func (l *Limiter) Check(ctx context.Context, ruleName, key string) (Decision, error) {
	rule, err := l.rule(ruleName)
	if err != nil {
		return Decision{}, err
	}
	count, resetAt, err := l.store.Peek(ctx, counterKey(rule, key))
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: peek %s: %w", ruleName, err)
	}
	return l.decide(rule, count, resetAt), nil
}

// Hit consumes one attempt and reports the resulting state. The first hit of
// a window starts its expiry clock.
func (l *Limiter) Hit(ctx context.Context, ruleName, key string) (Decision, error) {
	rule, err := l.rule(ruleName)
	if err != nil {
		return Decision{}, err
	}
	count, resetAt, err := l.store.Incr(ctx, counterKey(rule, key), rule.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", ruleName, err)
	}
	d := Decision{
		Allowed:   count <= rule.Max,
		Remaining: rule.Max - count,
		ResetAt:   resetAt,
		Rule:      rule,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Allow consumes one attempt. For Delay rules an exhausted window blocks
// until reset or context cancellation instead of failing.
func (l *Limiter) Allow(ctx context.Context, ruleName, key string) (Decision, error) {
	d, err := l.Hit(ctx, ruleName, key)
	if err != nil {
		return Decision{}, err
	}
	if d.Allowed || d.Rule.OnExceed != Delay {
		return d, nil
	}

	wait := d.RetryAfter(l.now())
	l.logger.Debug("delaying caller", "rule", ruleName, "key", key, "wait", wait)
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-time.After(wait):
	}
	return l.Hit(ctx, ruleName, key)
}

func (l *Limiter) decide(rule Rule, count int64, resetAt time.Time) Decision {
	d := Decision{
		Allowed:   count < rule.Max,
		Remaining: rule.Max - count,
		ResetAt:   resetAt,
		Rule:      rule,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}
