package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors
var (
	ErrNoToken         = errors.New("no token provided")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrMissingJWKSURL  = errors.New("missing JWKS URL")
)

// Claims carries the verified identity of a connection
type Claims struct {
	// Subject is the sub claim, used as the connection principal in logs
	Subject string

	// Raw holds the full claim set for callers that need more than the subject
	Raw jwt.MapClaims
}

// Verifier validates an identity token presented at the upgrade boundary.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// BearerFromRequest extracts the bearer token from an upgrade request. The
// Authorization header wins; the token query parameter is the fallback for
// browser WebSocket clients, which cannot set headers.
func BearerFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
