package auth

import (
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the flat platform JWT payload (spec §6): no external identity
// provider, no discovery, no realm roles tree — just the three fields every
// request needs to enforce tenant isolation.
type Claims struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// DefaultIssuer and DefaultAudience are the platform's own values for the
// `iss`/`aud` claims (spec §6: "issuer and audience must match platform
// values"), used unless overridden with WithIssuer/WithAudience.
const (
	DefaultIssuer   = "runbox"
	DefaultAudience = "runbox-api"
)

// Verifier validates platform JWTs signed with a single shared HMAC secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// VerifierOption configures a Verifier at construction time.
type VerifierOption func(*Verifier)

// WithIssuer overrides the expected `iss` claim.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience overrides the expected `aud` claim.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

// NewVerifier builds a Verifier from a non-empty signing secret, defaulting
// the expected issuer/audience to DefaultIssuer/DefaultAudience.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt signing secret must not be empty")
	}
	v := &Verifier{secret: []byte(secret), issuer: DefaultIssuer, audience: DefaultAudience}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifierFromEnv builds a Verifier from RUNBOX_JWT_SECRET, optionally
// overridden by RUNBOX_JWT_ISSUER/RUNBOX_JWT_AUDIENCE.
func VerifierFromEnv() (*Verifier, error) {
	secret := os.Getenv("RUNBOX_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("RUNBOX_JWT_SECRET must be set")
	}
	var opts []VerifierOption
	if issuer := os.Getenv("RUNBOX_JWT_ISSUER"); issuer != "" {
		opts = append(opts, WithIssuer(issuer))
	}
	if audience := os.Getenv("RUNBOX_JWT_AUDIENCE"); audience != "" {
		opts = append(opts, WithAudience(audience))
	}
	return NewVerifier(secret, opts...)
}

// Verify parses and validates tokenString, returning the authenticated
// TenantContext on success.
func (v *Verifier) Verify(tokenString string) (*TenantContext, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if claims.OrganizationID == "" {
		return nil, fmt.Errorf("token is missing organizationId claim")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token is missing userId claim")
	}

	role := Role(claims.Role)
	if role == "" {
		role = RoleMember
	}

	return &TenantContext{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Role:           role,
		RawToken:       tokenString,
	}, nil
}

// Issue mints a signed token for (userID, organizationID, role). Used by
// tests and by any admin tooling that provisions tokens out of band; the
// Producer itself never issues tokens (spec Non-goals: no signup/login
// flow).
func (v *Verifier) Issue(userID, organizationID string, role Role, claims jwt.RegisteredClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	if len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:            userID,
		OrganizationID:    organizationID,
		Role:              string(role),
		RegisteredClaims:  claims,
	})
	return token.SignedString(v.secret)
}
