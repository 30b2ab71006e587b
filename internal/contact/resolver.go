// ABOUTME: Resolves visitor identity hints to a stored Contact, creating or updating as needed
// ABOUTME: Normalizes email addresses and merges newly supplied identity fields

package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"github.com/2389/support-gateway/internal/store"
)

// Identity is whatever the visitor told us about themselves.
type Identity struct {
	ContactID string
	Email     string
	Phone     string
	FullName  string
	Company   string
	Tags      []string
}

// Empty reports whether the identity carries nothing to resolve.
func (id Identity) Empty() bool {
	return strings.TrimSpace(id.ContactID) == "" &&
		strings.TrimSpace(id.Email) == "" &&
		strings.TrimSpace(id.Phone) == "" &&
		strings.TrimSpace(id.FullName) == "" &&
		strings.TrimSpace(id.Company) == "" &&
		len(id.Tags) == 0
}

// Resolver finds or creates contacts.
type Resolver struct {
	store  store.ContactStore
	logger *slog.Logger
}

// NewResolver creates a Resolver. Pass nil logger for default.
func NewResolver(s store.ContactStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "contact"),
	}
}

// NormalizeEmail trims, parses and lower-cases an address. A display name
// in the input ("Ada <ada@example.com>") is returned separately.
func NormalizeEmail(raw string) (email, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", "", store.Invalid("email", "not a valid address")
	}
	return strings.ToLower(addr.Address), strings.TrimSpace(addr.Name), nil
}

// Resolve returns the contact for id within orgID. It returns (nil, nil)
// when id is empty.
func (r *Resolver) Resolve(ctx context.Context, orgID string, id Identity) (*store.Contact, error) {
	if id.Empty() {
		return nil, nil
	}

	email, displayName, err := NormalizeEmail(id.Email)
	if err != nil {
		return nil, err
	}
	id.Email = email
	if strings.TrimSpace(id.FullName) == "" {
		id.FullName = displayName
	}

	if id.ContactID != "" {
		existing, err := r.store.GetContact(ctx, orgID, id.ContactID)
		switch {
		case err == nil:
			return r.merge(ctx, existing, id)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up contact: %w", err)
		}
		r.logger.Debug("unknown contact id, resolving by email", "org_id", orgID, "contact_id", id.ContactID)
	}

	if email != "" {
		existing, err := r.store.GetContactByEmail(ctx, orgID, email)
		switch {
		case err == nil:
			return r.merge(ctx, existing, id)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up contact by email: %w", err)
		}
	}

	c := &store.Contact{
		OrgID:    orgID,
		Email:    email,
		Phone:    strings.TrimSpace(id.Phone),
		FullName: strings.TrimSpace(id.FullName),
		Company:  strings.TrimSpace(id.Company),
		Tags:     unionTags(nil, id.Tags),
	}
	err = r.store.CreateContact(ctx, c)
	if errors.Is(err, store.ErrDuplicate) && email != "" {
		// Lost a create race for this email; use the winner.
		existing, err := r.store.GetContactByEmail(ctx, orgID, email)
		if err != nil {
			return nil, fmt.Errorf("re-reading contact after duplicate: %w", err)
		}
		return r.merge(ctx, existing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("creating contact: %w", err)
	}

	r.logger.Info("contact created", "org_id", orgID, "contact_id", c.ID)
	return c, nil
}

// merge copies non-empty identity fields onto c and saves it if anything changed.
func (r *Resolver) merge(ctx context.Context, c *store.Contact, id Identity) (*store.Contact, error) {
	changed := false
	prevEmail := c.Email
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&c.Email, id.Email)
	set(&c.Phone, id.Phone)
	set(&c.FullName, id.FullName)
	set(&c.Company, id.Company)

	if tags := unionTags(c.Tags, id.Tags); len(tags) != len(c.Tags) {
		c.Tags = tags
		changed = true
	}

	if !changed {
		return c, nil
	}
	err := r.store.UpdateContact(ctx, c)
	if errors.Is(err, store.ErrDuplicate) && c.Email != prevEmail {
		// The email belongs to another contact; keep this one without it.
		r.logger.Warn("email already owned by another contact, not merging",
			"org_id", c.OrgID, "contact_id", c.ID)
		c.Email = prevEmail
		err = r.store.UpdateContact(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("updating contact: %w", err)
	}
	r.logger.Debug("contact updated", "org_id", c.OrgID, "contact_id", c.ID)
	return c, nil
}

// unionTags appends tags not already present, keeping order.
func unionTags(existing, incoming []string) []string {
	out := slices.Clone(existing)
	for _, t := range incoming {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
