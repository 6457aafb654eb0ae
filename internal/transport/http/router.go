// Package httptransport assembles the chi router: middleware chain, health,
// metrics and the domain handlers.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"audiovault/internal/platform/metrics"
	"audiovault/pkg/platform/httputil"
	"audiovault/pkg/platform/middleware/logging"
	"audiovault/pkg/platform/middleware/metadata"
	"audiovault/pkg/platform/middleware/request"
	"audiovault/pkg/platform/middleware/requesttime"
	"audiovault/pkg/platform/middleware/security"
	"audiovault/pkg/platform/middleware/tracing"
)

// RouteRegistrar mounts a handler's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures NewRouter. Handlers, RateLimit and Auth may be nil in tests.
type Options struct {
	Logger         *slog.Logger
	ServiceName    string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	// RateLimit runs before Auth on the domain routes. Nil disables it.
	RateLimit func(http.Handler) http.Handler
	// Auth guards the domain routes. Nil leaves callers anonymous.
	Auth         func(http.Handler) http.Handler
	Handlers     []RouteRegistrar
	HealthChecks map[string]HealthCheck
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter wires all public endpoints.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(security.Headers)
	r.Use(logging.Middleware(logger))
	r.Use(opts.Metrics.Middleware)

	r.Get("/health", handleHealth(opts.HealthChecks))
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		for _, h := range opts.Handlers {
			h.Register(r)
		}
	})

	name := opts.ServiceName
	if name == "" {
		name = "audiovault"
	}
	return tracing.Middleware(name)(r)
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
