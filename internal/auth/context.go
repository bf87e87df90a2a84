package auth

import (
	"context"
	"errors"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const tenantContextKey contextKey = "tenant"

// Role is a platform-level permission tier carried in the JWT.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// TenantContext holds the identity extracted from a verified platform JWT.
// Every durable read/write/delete and every realtime room join is scoped by
// its OrganizationID (spec §6 JWT shape, tenant isolation invariant).
type TenantContext struct {
	UserID         string
	OrganizationID string
	Role           Role
	RawToken       string
}

// SetTenantContext stores tenant information in the context.
func SetTenantContext(ctx context.Context, tenant *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// GetTenantContext retrieves tenant information from the context. Returns
// an error if no tenant context is found (unauthenticated request).
func GetTenantContext(ctx context.Context) (*TenantContext, error) {
	tenant, ok := ctx.Value(tenantContextKey).(*TenantContext)
	if !ok || tenant == nil {
		return nil, errors.New("no tenant context found - request is not authenticated")
	}
	return tenant, nil
}

// MustGetTenantContext retrieves tenant information from the context.
// Panics if no tenant context is found (only safe behind RequireAuth).
func MustGetTenantContext(ctx context.Context) *TenantContext {
	tenant, err := GetTenantContext(ctx)
	if err != nil {
		panic("MustGetTenantContext called on unauthenticated request")
	}
	return tenant
}

// IsAdmin reports whether the tenant holds the admin role.
func (t *TenantContext) IsAdmin() bool {
	return t.Role == RoleAdmin
}
