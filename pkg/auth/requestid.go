package auth

import (
	"context"
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

type requestIDKey struct{}

// RequestIDMiddleware injects a unique X-Request-ID into every request
// context and response header. A client-supplied id is reused so callers
// can correlate across systems.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = ids.New()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID extracts the request id from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
