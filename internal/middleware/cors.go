// Package middleware provides HTTP middleware for the study API.
package middleware

import "net/http"

// CORS returns middleware that handles cross-origin requests from the
// survey frontend. The study API is GET/POST only.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (wildcard || explicit[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "600")
				// Credentials only for explicit origins; pairing them
				// with a wildcard-echoed origin enables CSRF.
				if explicit[origin] {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
