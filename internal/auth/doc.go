// Package auth provides session resolution and permission checks for the
// board gateway.
//
// # Sessions
//
// Every mutating request carries an opaque session token. A SessionResolver
// turns it into a durable user id:
//
//   - StoreResolver: looks the token up in the sessions table (stored as sha256)
//   - JWTVerifier: validates an HS256 JWT signed with auth.jwt_secret; "sub" is the user id
//   - ChainResolver: tries several resolvers in order
//
// A connection may also present a token once, on the WebSocket upgrade
// (Authorization: Bearer or ?token=). Requests without their own token fall
// back to it through AuthContext.
//
// # Permissions
//
// Gate.Allowed answers allowed(user, projectScope, resource, action):
//
//   - owner: always allowed
//   - guest: only "read"
//   - admin, member: consult role_permissions
//
// Users without an active membership in the project are never allowed.
package auth
