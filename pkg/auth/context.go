// Context helpers for extracting authentication information from request
// contexts. These simplify access to JWT claims injected by the auth
// middleware.
package auth

import (
	"context"
	"fmt"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
// Use this when you only need the user ID and can handle empty string gracefully.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// GetBusinessIDFromContext extracts the business ID from JWT claims in the context.
// Returns 0 if not authenticated or claims are missing.
func GetBusinessIDFromContext(ctx context.Context) int64 {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return 0
	}
	return claims.BusinessID
}

// RequireUserIDFromContext extracts the user ID from context and returns an error if not found.
func RequireUserIDFromContext(ctx context.Context) (string, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RequireBusinessIDFromContext extracts the business ID from context and
// returns an error if not found. Every query path requires this; the
// business ID from the token is the only tenant identity ever bound.
func RequireBusinessIDFromContext(ctx context.Context) (int64, error) {
	businessID := GetBusinessIDFromContext(ctx)
	if businessID <= 0 {
		return 0, fmt.Errorf("business ID not found in context")
	}
	return businessID, nil
}
