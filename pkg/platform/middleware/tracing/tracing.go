// Package tracing instruments requests with OpenTelemetry server spans and
// W3C trace context propagation.
package tracing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Middleware names spans "METHOD route-pattern" once chi has matched the
// route, falling back to the raw path. Query strings never reach span names.
func Middleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						return r.Method + " " + pattern
					}
				}
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// TraceID returns the active trace id, or "".
func TraceID(r *http.Request) string {
	sc := trace.SpanContextFromContext(r.Context())
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
