package middlewares

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

const (
	// HeaderRequestID is the header name for the per-transaction request ID.
	// Unlike X-Correlation-ID (which is preserved across retries and
	// hops), X-Request-ID is unique to every single HTTP transaction
	// hitting the proxy.
	HeaderRequestID = "X-Request-ID"
)

// RequestID generates a unique request ID for every HTTP transaction and
// stores it in both the response header and request context.
//
// Unlike CorrelationID (which is reused across retries), the request ID
// is always freshly generated — it identifies this specific transaction.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		w.Header().Set(HeaderRequestID, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from a context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
