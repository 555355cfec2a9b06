package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/secureyeoman/secureyeoman/pkg/api"
)

// Verifier resolves credentials on incoming requests. TokenService and
// APIKeyStore satisfy the two halves.
type Verifier interface {
	Introspect(token string) (Principal, error)
}

// KeyVerifier resolves X-API-Key headers.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (Principal, error)
}

// publicPaths need no credentials.
var publicPaths = []string{
	"/health",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
}

func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/api/v1/webhooks/") {
		// Platform sinks authenticate by signature, not by principal.
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Middleware authenticates every non-public request by bearer token or
// X-API-Key and injects the principal. Nil verifiers fail closed.
func Middleware(tokens Verifier, keys KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if keys == nil {
					api.WriteErrorMsg(w, http.StatusUnauthorized, "API key auth not configured")
					return
				}
				p, err := keys.Verify(r.Context(), apiKey)
				if err != nil {
					api.WriteError(w, r, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteErrorMsg(w, http.StatusUnauthorized, "missing credentials")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteErrorMsg(w, http.StatusUnauthorized, "expected 'Bearer <token>'")
				return
			}
			if tokens == nil {
				api.WriteErrorMsg(w, http.StatusUnauthorized, "authentication not configured")
				return
			}

			p, err := tokens.Introspect(parts[1])
			if err != nil {
				api.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// ClientIP extracts the caller address, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
