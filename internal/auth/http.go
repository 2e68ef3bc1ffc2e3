// ABOUTME: Session token extraction from HTTP upgrade requests
// ABOUTME: Reads a bearer token from the Authorization header or the token query parameter

package auth

import (
	"context"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the session token presented with r, or "" if none.
// Browsers cannot set headers on WebSocket upgrades, so ?token= is accepted too.
func RequestToken(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// ConnectionContext attaches the request's session token, if any, to ctx.
func ConnectionContext(ctx context.Context, r *http.Request) context.Context {
	token := RequestToken(r)
	if token == "" {
		return ctx
	}
	return WithAuth(ctx, &AuthContext{SessionToken: token})
}
