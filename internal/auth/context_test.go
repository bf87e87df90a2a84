package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantContext_RoundTrip(t *testing.T) {
	tenant := &TenantContext{UserID: "u1", OrganizationID: "org1", Role: RoleMember}
	ctx := SetTenantContext(context.Background(), tenant)

	got, err := GetTenantContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, tenant, got)
}

func TestGetTenantContext_MissingReturnsError(t *testing.T) {
	_, err := GetTenantContext(context.Background())
	require.Error(t, err)
}

func TestMustGetTenantContext_PanicsWhenMissing(t *testing.T) {
	assert.Panics(t, func() {
		MustGetTenantContext(context.Background())
	})
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, (&TenantContext{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&TenantContext{Role: RoleMember}).IsAdmin())
}
