package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware is a HTTP middleware that validates JWT tokens. It extracts
// the Bearer token from the Authorization header, validates it against the
// platform signing secret, and stores the tenant context for downstream
// handlers.
type Middleware struct {
	verifier *Verifier
	optional bool // If true, allows requests without auth
	logger   *zap.Logger
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(verifier *Verifier, optional bool, logger *zap.Logger) *Middleware {
	return &Middleware{verifier: verifier, optional: optional, logger: logger}
}

// Handler returns the HTTP middleware handler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// WebSocket connections authenticate via their own first-frame
		// handshake (spec §4.3), not this header-based middleware.
		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorized(w, "missing Authorization header")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			m.unauthorized(w, "invalid Authorization header format (expected: Bearer <token>)")
			return
		}

		tenant, err := m.verifier.Verify(token)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("token verification failed", zap.Error(err))
			}
			m.unauthorized(w, "invalid or expired token")
			return
		}

		ctx = SetTenantContext(ctx, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isWebSocketUpgrade checks if the request is a WebSocket upgrade request.
func isWebSocketUpgrade(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

// extractBearerToken extracts the token from "Bearer <token>" format.
func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// unauthorized sends a 401 Unauthorized response.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + message + `"}`))
}

// RequireAuth is a convenience middleware that always requires authentication.
func RequireAuth(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return NewMiddleware(verifier, false, logger).Handler
}

// OptionalAuth is a convenience middleware that allows optional authentication.
func OptionalAuth(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return NewMiddleware(verifier, true, logger).Handler
}
