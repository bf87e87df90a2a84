package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue("user-1", "org-1", RoleAdmin, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	require.NoError(t, err)

	tenant, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", tenant.UserID)
	assert.Equal(t, "org-1", tenant.OrganizationID)
	assert.Equal(t, RoleAdmin, tenant.Role)
	assert.True(t, tenant.IsAdmin())
}

func TestVerifier_RejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue("user-1", "org-1", RoleMember, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.Error(t, err)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	v1, err := NewVerifier("secret-one")
	require.NoError(t, err)
	v2, err := NewVerifier("secret-two")
	require.NoError(t, err)

	token, err := v1.Issue("user-1", "org-1", RoleMember, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	_, err = v2.Verify(token)
	require.Error(t, err)
}

func TestVerifier_RejectsMissingOrganizationID(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.Error(t, err)
}

func TestNewVerifier_RejectsEmptySecret(t *testing.T) {
	_, err := NewVerifier("")
	require.Error(t, err)
}

func TestVerifier_RejectsWrongIssuer(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:         "user-1",
		OrganizationID: "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.Error(t, err)
}

func TestVerifier_RejectsWrongAudience(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:         "user-1",
		OrganizationID: "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  jwt.ClaimStrings{"someone-elses-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	require.Error(t, err)
}

func TestVerifier_AcceptsConfiguredIssuerAndAudience(t *testing.T) {
	v, err := NewVerifier("test-secret", WithIssuer("runbox-staging"), WithAudience("runbox-staging-api"))
	require.NoError(t, err)

	token, err := v.Issue("user-1", "org-1", RoleMember, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	tenant, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", tenant.OrganizationID)
}

func TestVerifier_DefaultsMissingRoleToMember(t *testing.T) {
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)

	token, err := v.Issue("user-1", "org-1", "", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	tenant, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, tenant.Role)
}
