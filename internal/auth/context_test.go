// ABOUTME: Tests for AuthContext helpers and context propagation
// ABOUTME: Covers role checks, actor derivation and WithAuth/FromContext

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/support-gateway/internal/store"
)

func TestAuthContext_Roles(t *testing.T) {
	assert.True(t, (&AuthContext{Role: RoleAdmin}).IsAdmin())
	assert.True(t, (&AuthContext{Role: RoleAdmin}).IsStaff())
	assert.False(t, (&AuthContext{Role: RoleAgent}).IsAdmin())
	assert.True(t, (&AuthContext{Role: RoleAgent}).IsStaff())
	assert.False(t, (&AuthContext{Role: RoleWidget}).IsStaff())
}

func TestAuthContext_Actor(t *testing.T) {
	a := &AuthContext{Subject: "agent-1", Name: "Grace"}
	assert.Equal(t, store.Actor{ID: "agent-1", Name: "Grace"}, a.Actor())

	anon := &AuthContext{Subject: "agent-2"}
	assert.Equal(t, "agent-2", anon.Actor().Name)
}

func TestWithAuth_FromContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	a := &AuthContext{OrgID: "acme", Subject: "agent-1"}
	ctx = WithAuth(ctx, a)
	assert.Same(t, a, FromContext(ctx))
	assert.Same(t, a, MustFromContext(ctx))
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
