package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"audiovault/pkg/requestcontext"
)

// ClientMetadata extracts the client IP and User-Agent, summarizes the agent
// and stores all three on the request context. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua, Summarize(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Summarize reduces a User-Agent to a low-cardinality "Browser/OS" label
// suitable for audit entries, e.g. "Chrome/Android mobile".
func Summarize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return "bot " + name
	}
	name, _ := ua.Browser()
	os := ua.OSInfo().Name
	switch {
	case name == "" && os == "":
		return "unknown"
	case os == "":
		return name
	case name == "":
		name = "unknown"
	}
	summary := name + "/" + os
	if ua.Mobile() {
		summary += " mobile"
	}
	return summary
}

// ClientIPFromRequest extracts the client IP, honouring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For is "client, proxy1, proxy2"; the first hop is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" or "[::1]:port".
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
