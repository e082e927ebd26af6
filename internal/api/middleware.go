package api

import (
	"net/http"

	"github.com/coriolis-labs/agentrun/internal/apierr"
)

// requireAPIKey rejects requests on the run routes, reads included, that
// don't carry a valid X-API-Key header. A checker with no configured keys is a no-op.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKeys == nil || !s.apiKeys.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if !s.apiKeys.Check(r.Header.Get("X-API-Key")) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   apierr.CodeUnauthorized,
				"message": "missing or invalid X-API-Key header",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit throttles requests on the run routes per caller, keyed by API key
// when present and falling back to the remote address otherwise.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":   apierr.CodeRateLimited,
				"message": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
