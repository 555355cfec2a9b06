package auth

import (
	"context"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the Principal placed by the middleware.
func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, fault.New(fault.KindUnauthenticated, "no principal in context")
	}
	return p, nil
}
