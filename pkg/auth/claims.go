// Package auth provides JWT-based authentication for lexitau-engine.
// Access tokens are HS256-signed by the lexitau account service; the
// business ID claim is the tenant identity used for row scoping.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims structure issued by the account service.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.)
// and adds custom claims for tenant context.
type Claims struct {
	jwt.RegisteredClaims
	BusinessID int64    `json:"bid,omitempty"`   // Tenant business ID
	Email      string   `json:"email,omitempty"` // User email address
	Roles      []string `json:"roles,omitempty"` // User roles within the business
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// ExtractClaimsFromContext extracts business ID and user ID from JWT claims in context.
// Returns error if not authenticated or claims are invalid.
func ExtractClaimsFromContext(ctx context.Context) (int64, string, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return 0, "", fmt.Errorf("authentication required: no claims in context")
	}

	if claims.BusinessID <= 0 {
		return 0, "", fmt.Errorf("missing business ID in JWT claims")
	}

	userID := claims.Subject
	if userID == "" {
		return 0, "", fmt.Errorf("missing user ID in JWT claims")
	}

	return claims.BusinessID, userID, nil
}
