// Package middleware enforces the per-client rate limit on HTTP routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"audiovault/internal/ratelimit"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/httputil"
	"audiovault/pkg/requestcontext"
)

// Checker decides whether a client address may make another request.
type Checker interface {
	Check(ctx context.Context, addr string) (*ratelimit.Result, error)
}

type Middleware struct {
	limiter  Checker
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter Checker, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit refuses blocklisted clients with 403 and clients over budget with
// 429. A limiter error lets the request through.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		addr := requestcontext.ClientIP(ctx)
		if addr == "" {
			addr = "unknown"
		}

		result, err := m.limiter.Check(ctx, addr)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		switch {
		case result.Blocked:
			m.logger.WarnContext(ctx, "request from blocked client refused",
				"request_id", requestcontext.RequestID(ctx),
			)
			setRetryAfter(w, result)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "Access denied"))
		case !result.Allowed:
			setRetryAfter(w, result)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "Too many requests from this IP address. Please try again later."))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

func setRetryAfter(w http.ResponseWriter, result *ratelimit.Result) {
	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	}
}
