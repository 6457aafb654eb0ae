// Package security sets the response headers every endpoint must carry.
package security

import "net/http"

// Headers marks every response as non-cacheable PHI-bearing content.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-HIPAA-Compliance", "enabled")
		next.ServeHTTP(w, r)
	})
}
