package middlewares

import (
	"net/http"
	"time"
)

// SecurityHeaders adds baseline HTTP security headers to every response.
// This is a plain admission proxy with no browser UI, so the set is
// deliberately small.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-type sniffing.
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// This service is an API — it should never be framed.
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Cache-Control", "no-cache, private, max-age=0")
		w.Header().Set("Expires", time.Unix(0, 0).Format(time.RFC1123))
		w.Header().Set("Pragma", "no-cache")

		next.ServeHTTP(w, r)
	})
}
