// ABOUTME: Tests for the contact resolver
// ABOUTME: Covers email normalization, create-on-first-sight, field merging and race recovery

package contact

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-gateway/internal/store"
)

func TestNormalizeEmail(t *testing.T) {
	email, name, err := NormalizeEmail("  Ada Lovelace <Ada@Example.COM> ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)
	assert.Equal(t, "Ada Lovelace", name)

	email, _, err = NormalizeEmail("")
	require.NoError(t, err)
	assert.Empty(t, email)

	_, _, err = NormalizeEmail("not an email")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestResolve_EmptyIdentity(t *testing.T) {
	r := NewResolver(store.NewMockStore(), nil)

	c, err := r.Resolve(context.Background(), "acme", Identity{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolve_CreatesThenReusesByEmail(t *testing.T) {
	s := store.NewMockStore()
	r := NewResolver(s, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "acme", Identity{Email: "Ada@Example.com", FullName: "Ada"})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "ada@example.com", first.Email)

	second, err := r.Resolve(ctx, "acme", Identity{Email: "ada@example.com", Company: "Engines Ltd", Tags: []string{"vip"}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ada", second.FullName, "existing fields are kept when not supplied")
	assert.Equal(t, "Engines Ltd", second.Company)
	assert.Equal(t, []string{"vip"}, second.Tags)

	stored, err := s.GetContact(ctx, "acme", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Engines Ltd", stored.Company)
}

func TestResolve_EmailIsPerOrg(t *testing.T) {
	r := NewResolver(store.NewMockStore(), nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "acme", Identity{Email: "ada@example.com"})
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "globex", Identity{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolve_ByContactID(t *testing.T) {
	s := store.NewMockStore()
	r := NewResolver(s, nil)
	ctx := context.Background()

	c, err := r.Resolve(ctx, "acme", Identity{FullName: "Widget Visitor"})
	require.NoError(t, err)

	again, err := r.Resolve(ctx, "acme", Identity{ContactID: c.ID, Email: "visitor@example.com"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "visitor@example.com", again.Email)

	// Unknown id falls back to email lookup.
	viaEmail, err := r.Resolve(ctx, "acme", Identity{ContactID: "stale", Email: "visitor@example.com"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, viaEmail.ID)
}

func TestResolve_TagUnionPreservesOrder(t *testing.T) {
	r := NewResolver(store.NewMockStore(), nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "acme", Identity{Email: "a@example.com", Tags: []string{"trial", "eu"}})
	require.NoError(t, err)
	c, err := r.Resolve(ctx, "acme", Identity{Email: "a@example.com", Tags: []string{"eu", " paid "}})
	require.NoError(t, err)
	assert.Equal(t, []string{"trial", "eu", "paid"}, c.Tags)
}

func TestResolve_InvalidEmail(t *testing.T) {
	r := NewResolver(store.NewMockStore(), nil)

	_, err := r.Resolve(context.Background(), "acme", Identity{Email: "@@"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

// racingStore hides the first created contact from email lookups until the
// create has happened, forcing the duplicate path.
type racingStore struct {
	*store.MockStore
	once sync.Once
}

func (r *racingStore) GetContactByEmail(ctx context.Context, orgID, email string) (*store.Contact, error) {
	var hidden bool
	r.once.Do(func() {
		// Another writer wins the race between our lookup and create.
		_ = r.MockStore.CreateContact(ctx, &store.Contact{OrgID: orgID, Email: email, FullName: "Winner"})
		hidden = true
	})
	if hidden {
		return nil, store.ErrNotFound
	}
	return r.MockStore.GetContactByEmail(ctx, orgID, email)
}

func TestResolve_RecoversFromCreateRace(t *testing.T) {
	s := &racingStore{MockStore: store.NewMockStore()}
	r := NewResolver(s, nil)

	c, err := r.Resolve(context.Background(), "acme", Identity{Email: "race@example.com", Company: "Loser Inc"})
	require.NoError(t, err)
	assert.Equal(t, "Winner", c.FullName)
	assert.Equal(t, "Loser Inc", c.Company)
}

func TestResolve_EmailOwnedByAnotherContact(t *testing.T) {
	s := store.NewMockStore()
	r := NewResolver(s, nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "acme", Identity{Email: "a@x.com"})
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "acme", Identity{Email: "b@x.com"})
	require.NoError(t, err)

	got, err := r.Resolve(ctx, "acme", Identity{ContactID: b.ID, Email: "a@x.com", Phone: "+1555"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "b@x.com", got.Email)
	assert.Equal(t, "+1555", got.Phone)

	owner, err := s.GetContactByEmail(ctx, "acme", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, owner.ID)
}
