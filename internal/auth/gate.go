// ABOUTME: Permission gate turning a session token and (resource, action) into allow/deny
// ABOUTME: Owners may do anything, guests may only read, other roles consult role grants

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/board-gateway/internal/store"
)

// Gate errors
var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrPermissionDenied = errors.New("permission denied")
)

// Resources and actions checked by the board coordinator.
const (
	ResourceTask = "task"

	ActionRead   = "read"
	ActionCreate = "create"
	ActionManage = "manage"
	ActionDelete = "delete"
)

// SessionResolver turns an opaque session token into a durable user id.
// Unknown, expired or malformed tokens return an error wrapping ErrUnknownSession.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (userID string, err error)
}

// RoleStore answers membership and grant lookups for the gate.
type RoleStore interface {
	GetMemberRole(ctx context.Context, userID, projectScope string) (store.RoleName, error)
	RoleHasPermission(ctx context.Context, role store.RoleName, resource, action string) (bool, error)
}

// SessionStore is the subset of store.IdentityStore used by StoreResolver.
type SessionStore interface {
	GetSessionUser(ctx context.Context, token string) (string, error)
}

// StoreResolver resolves tokens against the sessions table.
type StoreResolver struct {
	sessions SessionStore
}

// NewStoreResolver creates a resolver backed by persisted sessions.
func NewStoreResolver(sessions SessionStore) *StoreResolver {
	return &StoreResolver{sessions: sessions}
}

// Resolve implements SessionResolver.
func (r *StoreResolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnknownSession
	}
	userID, err := r.sessions.GetSessionUser(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnknownSession
	}
	if err != nil {
		return "", fmt.Errorf("resolving session: %w", err)
	}
	return userID, nil
}

// ChainResolver tries each resolver in order and returns the first success.
type ChainResolver []SessionResolver

// Resolve implements SessionResolver. Lookup failures other than an unknown
// session stop the chain.
func (c ChainResolver) Resolve(ctx context.Context, token string) (string, error) {
	for _, r := range c {
		userID, err := r.Resolve(ctx, token)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, ErrUnknownSession) {
			return "", err
		}
	}
	return "", ErrUnknownSession
}

// Gate wraps the identity and role lookups behind a single allow/deny check.
type Gate struct {
	sessions SessionResolver
	roles    RoleStore
	logger   *slog.Logger
}

// NewGate creates a permission gate.
func NewGate(sessions SessionResolver, roles RoleStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: sessions,
		roles:    roles,
		logger:   logger.With("component", "gate"),
	}
}

// Identify resolves a session token to a user id.
func (g *Gate) Identify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnknownSession
	}
	return g.sessions.Resolve(ctx, token)
}

// Allowed reports whether userID may perform action on resource in projectScope.
// A user with no active membership is never allowed.
func (g *Gate) Allowed(ctx context.Context, userID, projectScope, resource, action string) (bool, error) {
	role, err := g.roles.GetMemberRole(ctx, userID, projectScope)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up role: %w", err)
	}

	switch role {
	case store.RoleOwner:
		return true, nil
	case store.RoleGuest:
		return action == ActionRead, nil
	}

	ok, err := g.roles.RoleHasPermission(ctx, role, resource, action)
	if err != nil {
		return false, fmt.Errorf("checking grant: %w", err)
	}
	return ok, nil
}

// Authorize resolves token and checks the permission in one step. It returns
// the user id on success, ErrUnknownSession when the token does not resolve,
// and ErrPermissionDenied when the user lacks the permission.
func (g *Gate) Authorize(ctx context.Context, token, projectScope, resource, action string) (string, error) {
	userID, err := g.Identify(ctx, token)
	if err != nil {
		return "", err
	}

	ok, err := g.Allowed(ctx, userID, projectScope, resource, action)
	if err != nil {
		return "", err
	}
	if !ok {
		g.logger.Debug("permission denied",
			"user_id", userID,
			"project_scope", projectScope,
			"resource", resource,
			"action", action,
		)
		return userID, ErrPermissionDenied
	}
	return userID, nil
}
