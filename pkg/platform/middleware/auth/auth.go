package auth

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/httputil"
	"audiovault/pkg/requestcontext"
)

// JWTValidator validates a bearer token and returns the caller it names.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is what the middleware needs from a verified token.
type JWTClaims struct {
	CallerID string
	JTI      string
}

const bearerPrefix = "Bearer "

// RequireCaller rejects requests without a valid bearer token and stores the
// verified caller id on the context. It identifies callers only; it makes no
// authorization decision.
func RequireCaller(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}
			if claims.CallerID == "" {
				logger.WarnContext(ctx, "unauthorized access - token has no subject",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithCallerID(ctx, claims.CallerID)))
		})
	}
}
