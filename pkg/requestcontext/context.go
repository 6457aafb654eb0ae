// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and the audit recorder read them
// without importing net/http.
//
//	callerID := requestcontext.CallerID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithCallerID(ctx, "clinician-7")
package requestcontext

import (
	"context"
	"time"
)

type (
	callerIDKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	clientAgentKey struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// AnonymousCaller is used when no verified caller identity is present.
const AnonymousCaller = "anonymous"

// -----------------------------------------------------------------------------
// Caller identity
// -----------------------------------------------------------------------------

// CallerID returns the verified caller identity, or AnonymousCaller.
func CallerID(ctx context.Context) string {
	if id, ok := ctx.Value(callerIDKey{}).(string); ok && id != "" {
		return id
	}
	return AnonymousCaller
}

// WithCallerID injects the caller identity.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey{}, callerID)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// ClientAgent returns the parsed, low-cardinality client summary
// (e.g. "Chrome/Android mobile") set by the metadata middleware.
func ClientAgent(ctx context.Context) string {
	if a, ok := ctx.Value(clientAgentKey{}).(string); ok {
		return a
	}
	return ""
}

// WithClientMetadata injects client IP, raw User-Agent and its parsed summary.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, clientAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	ctx = context.WithValue(ctx, clientAgentKey{}, clientAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the request-scoped time, falling back to time.Now() for
// workers and tests that did not set one.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
