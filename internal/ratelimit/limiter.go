// Package ratelimit applies a per-client sliding window budget and keeps a
// blocklist of clients that grossly exceed it.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/netip"
	"time"

	"audiovault/internal/ratelimit/metrics"
	"audiovault/pkg/platform/circuit"
	"audiovault/pkg/requestcontext"
)

// Limiter checks client addresses against the policy. With a fallback store
// configured, a failing primary store is bypassed through a circuit breaker.
type Limiter struct {
	store    Store
	fallback Store
	breaker  *circuit.Breaker
	policy   Policy
	denylist map[string]struct{}
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Limiter)

func WithPolicy(p Policy) Option {
	return func(l *Limiter) {
		l.policy = p
	}
}

// WithFallback serves checks from s while the primary store is failing.
func WithFallback(s Store) Option {
	return func(l *Limiter) {
		l.fallback = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Limiter) {
		l.breaker = b
	}
}

// WithDenylist refuses the given addresses outright.
func WithDenylist(addrs ...string) Option {
	return func(l *Limiter) {
		for _, a := range addrs {
			l.denylist[a] = struct{}{}
		}
	}
}

// WithClock overrides the time source; tests only.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New builds a limiter over store.
func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	l := &Limiter{
		store:    store,
		policy:   DefaultPolicy,
		denylist: map[string]struct{}{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.policy.Requests < 1 || l.policy.Window <= 0 {
		return nil, errors.New("rate limit policy needs a positive request budget and window")
	}
	if l.policy.BlockAfter == 0 {
		l.policy.BlockAfter = 2 * l.policy.Requests
	}
	if l.policy.BlockFor <= 0 {
		l.policy.BlockFor = DefaultPolicy.BlockFor
	}
	if l.fallback != nil && l.breaker == nil {
		l.breaker = circuit.New("ratelimit")
	}
	return l, nil
}

// Check counts one request from addr and decides whether it may proceed.
func (l *Limiter) Check(ctx context.Context, addr string) (*Result, error) {
	now := l.now()
	if _, ok := l.denylist[addr]; ok {
		l.metrics.IncDecision(metrics.OutcomeBlocked)
		return &Result{Blocked: true, Limit: l.policy.Requests}, nil
	}

	var res *Result
	err := l.withStore(ctx, func(s Store) error {
		var err error
		res, err = l.check(ctx, s, addr, now)
		return err
	})
	return res, err
}

func (l *Limiter) withStore(ctx context.Context, fn func(Store) error) error {
	if l.fallback == nil {
		return fn(l.store)
	}
	if l.breaker.Allow() {
		err := fn(l.store)
		if err == nil {
			if _, change := l.breaker.RecordSuccess(); change.Closed {
				l.logger.InfoContext(ctx, "rate limit store recovered")
			}
			return nil
		}
		if _, change := l.breaker.RecordFailure(); change.Opened {
			l.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}
	l.metrics.IncFallback()
	return fn(l.fallback)
}

func (l *Limiter) check(ctx context.Context, s Store, addr string, now time.Time) (*Result, error) {
	until, blocked, err := s.BlockedUntil(ctx, addr, now)
	if err != nil {
		return nil, err
	}
	if blocked {
		l.metrics.IncDecision(metrics.OutcomeBlocked)
		return &Result{Blocked: true, Limit: l.policy.Requests, ResetAt: until, RetryAfter: secondsUntil(now, until)}, nil
	}

	count, oldest, err := s.Hit(ctx, addr, now, l.policy.Window)
	if err != nil {
		return nil, err
	}
	reset := oldest.Add(l.policy.Window)
	if count <= l.policy.Requests {
		l.metrics.IncDecision(metrics.OutcomeAllowed)
		return &Result{
			Allowed:   true,
			Limit:     l.policy.Requests,
			Remaining: l.policy.Requests - count,
			ResetAt:   reset,
		}, nil
	}

	if count > l.policy.BlockAfter {
		if err := s.Block(ctx, addr, now, l.policy.BlockFor); err != nil {
			return nil, err
		}
		until := now.Add(l.policy.BlockFor)
		l.metrics.IncDecision(metrics.OutcomeBlocked)
		l.logger.ErrorContext(ctx, "client blocked for excessive requests",
			"request_id", requestcontext.RequestID(ctx),
			"ip_prefix", anonymize(addr),
			"requests", count,
			"blocked_until", until,
		)
		return &Result{Blocked: true, Limit: l.policy.Requests, ResetAt: until, RetryAfter: secondsUntil(now, until)}, nil
	}

	l.metrics.IncDecision(metrics.OutcomeLimited)
	return &Result{Limit: l.policy.Requests, ResetAt: reset, RetryAfter: secondsUntil(now, reset)}, nil
}

func secondsUntil(now, t time.Time) int {
	s := int(math.Ceil(t.Sub(now).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// anonymize keeps the /24 (IPv4) or /48 (IPv6) network of addr for logs.
func anonymize(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "invalid"
	}
	bits := 24
	if ip.Is6() && !ip.Is4In6() {
		bits = 48
	}
	prefix, err := ip.Unmap().Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
