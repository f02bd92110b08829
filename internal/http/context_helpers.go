package httpx

import (
	"context"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

// adminKey is an unexported context key type to avoid collisions across packages.
type adminKey struct{}

// AdminContext is what the gate learned about an admitted request.
type AdminContext struct {
	Session      domainauth.Session
	Principal    domainauth.Principal
	Verification domainauth.AdminVerification
}

// WithAdminContext returns a child context that carries ac.
func WithAdminContext(ctx context.Context, ac AdminContext) context.Context {
	return context.WithValue(ctx, adminKey{}, ac)
}

// AdminFromContext returns the gate result stored in ctx and whether it was present.
func AdminFromContext(ctx context.Context) (AdminContext, bool) {
	ac, ok := ctx.Value(adminKey{}).(AdminContext)
	return ac, ok
}

// SessionFromContext returns the admitted session, or nil outside gated routes.
func SessionFromContext(ctx context.Context) *domainauth.Session {
	if ac, ok := AdminFromContext(ctx); ok {
		return &ac.Session
	}
	return nil
}
