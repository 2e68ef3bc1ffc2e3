// ABOUTME: Connection identity carried through request handlers via context
// ABOUTME: Provides WithAuth/FromContext so requests can fall back to the connection's session

package auth

import (
	"context"
)

// AuthContext holds the session a connection presented when it was opened.
// Requests that omit their own session token fall back to it.
type AuthContext struct {
	SessionToken string // opaque token from the Authorization header or ?token=
}

// Token returns requestToken if set, otherwise the connection's token.
func (a *AuthContext) Token(requestToken string) string {
	if requestToken != "" || a == nil {
		return requestToken
	}
	return a.SessionToken
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
