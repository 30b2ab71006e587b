// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/2389/support-gateway/internal/store"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	OrgID   string
	Subject string
	Name    string
	Role    Role
}

// IsAdmin returns true if the caller may manage organization settings.
func (a *AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsStaff returns true for agents and admins.
func (a *AuthContext) IsStaff() bool {
	return a.Role == RoleAgent || a.Role == RoleAdmin
}

// Actor is the identity recorded on audit events.
func (a *AuthContext) Actor() store.Actor {
	name := a.Name
	if name == "" {
		name = a.Subject
	}
	return store.Actor{ID: a.Subject, Name: name}
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
