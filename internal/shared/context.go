package shared

import (
	"context"
	"fmt"
)

// RequestContext identifies the tenant, company and acting user for a single
// call. It is passed explicitly instead of being read from ambient session
// state; every persisted row is scoped by TenantID+CompanyID.
type RequestContext struct {
	TenantID  int64
	CompanyID int64
	ActorID   int64
}

// Valid reports whether the tenancy scope is fully populated. ActorID may be
// zero for system-initiated movements.
func (rc RequestContext) Valid() bool {
	return rc.TenantID > 0 && rc.CompanyID > 0
}

func (rc RequestContext) String() string {
	return fmt.Sprintf("tenant=%d company=%d actor=%d", rc.TenantID, rc.CompanyID, rc.ActorID)
}

type requestContextKey struct{}

// ContextWithRequestContext stores the tenancy scope in context.
func ContextWithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom extracts the tenancy scope from context. It returns
// ErrUnauthorized when the scope is absent or incomplete, so handlers fail
// fast before any write.
func RequestContextFrom(ctx context.Context) (RequestContext, error) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	if !ok || !rc.Valid() {
		return RequestContext{}, ErrUnauthorized
	}
	return rc, nil
}
