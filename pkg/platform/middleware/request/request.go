// Package request assigns every request an id that flows into logs, audit
// entries and the response.
package request

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"audiovault/pkg/requestcontext"
)

// Header carries the request id in both directions.
const Header = "X-Request-ID"

const maxInboundLength = 128

// RequestID reuses a well-formed inbound X-Request-ID or mints a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(Header))
		if !valid(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func valid(id string) bool {
	if id == "" || len(id) > maxInboundLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
