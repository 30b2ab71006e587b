// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while enforcing the same append and mutation rules

package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	contacts      map[string]*Contact             // keyed by "org:id"
	contactEmails map[string]string               // keyed by "org:email" -> contact ID
	conversations map[string]*Conversation        // keyed by "org:session"
	messages      map[string][]*Message           // keyed by "org:session"
	knowledge     map[string]*KnowledgeEntry      // keyed by entry ID
	events        map[string][]*ConversationEvent // keyed by "org:session"
	notes         map[string][]*Note              // keyed by "org:session"

	// Now is the clock used for store-assigned timestamps.
	Now func() time.Time

	// AppendErr, when set, is returned by AppendMessage instead of writing.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		contacts:      make(map[string]*Contact),
		contactEmails: make(map[string]string),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		knowledge:     make(map[string]*KnowledgeEntry),
		events:        make(map[string][]*ConversationEvent),
		notes:         make(map[string][]*Note),
		Now:           time.Now,
	}
}

func mockKey(orgID, id string) string {
	return orgID + ":" + id
}

func (m *MockStore) now() time.Time {
	return m.Now().UTC()
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// GetContact retrieves a contact by ID.
func (m *MockStore) GetContact(ctx context.Context, orgID, id string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[mockKey(orgID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(c), nil
}

// GetContactByEmail retrieves a contact by email.
func (m *MockStore) GetContactByEmail(ctx context.Context, orgID, email string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.contactEmails[mockKey(orgID, email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(m.contacts[mockKey(orgID, id)]), nil
}

// CreateContact stores a new contact.
func (m *MockStore) CreateContact(ctx context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Email != "" {
		if _, exists := m.contactEmails[mockKey(c.OrgID, c.Email)]; exists {
			return ErrDuplicate
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	m.contacts[mockKey(c.OrgID, c.ID)] = copyContact(c)
	if c.Email != "" {
		m.contactEmails[mockKey(c.OrgID, c.Email)] = c.ID
	}
	return nil
}

// UpdateContact overwrites a contact.
func (m *MockStore) UpdateContact(ctx context.Context, c *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.contacts[mockKey(c.OrgID, c.ID)]
	if !ok {
		return ErrNotFound
	}
	if c.Email != "" && c.Email != existing.Email {
		if _, taken := m.contactEmails[mockKey(c.OrgID, c.Email)]; taken {
			return ErrDuplicate
		}
	}
	if existing.Email != "" {
		delete(m.contactEmails, mockKey(c.OrgID, existing.Email))
	}

	c.UpdatedAt = m.now()
	m.contacts[mockKey(c.OrgID, c.ID)] = copyContact(c)
	if c.Email != "" {
		m.contactEmails[mockKey(c.OrgID, c.Email)] = c.ID
	}
	return nil
}

// AppendMessage stores a message, creating the conversation if needed.
func (m *MockStore) AppendMessage(ctx context.Context, p *AppendParams) (*AppendResult, error) {
	if err := validateAppend(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	k := mockKey(p.OrgID, p.SessionID)
	if p.ClientMessageID != "" {
		for _, msg := range m.messages[k] {
			if msg.ClientMessageID == p.ClientMessageID {
				conv := *m.conversations[k]
				cp := *msg
				return &AppendResult{Message: &cp, Conversation: &conv, Duplicate: true}, nil
			}
		}
	}

	now := m.now()
	conv, exists := m.conversations[k]
	if exists {
		now = nextTimestamp(conv, now)
	} else {
		conv = newConversation(p, now)
		m.conversations[k] = conv
	}

	msg := newMessage(p, int64(conv.TotalMessages)+1, now)
	applyAppend(conv, p, msg)
	m.messages[k] = append(m.messages[k], msg)

	convCopy := *conv
	msgCopy := *msg
	return &AppendResult{Message: &msgCopy, Conversation: &convCopy, Created: !exists}, nil
}

// GetConversation retrieves a conversation.
func (m *MockStore) GetConversation(ctx context.Context, orgID, sessionID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[mockKey(orgID, sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListConversations returns conversations most recently active first.
func (m *MockStore) ListConversations(ctx context.Context, orgID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		if c.OrgID == orgID {
			cp := *c
			convs = append(convs, &cp)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastAt.Equal(convs[j].LastAt) {
			return convs[i].LastAt.After(convs[j].LastAt)
		}
		return convs[i].SessionID < convs[j].SessionID
	})

	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// ListMessages returns a session's messages in append order.
func (m *MockStore) ListMessages(ctx context.Context, orgID, sessionID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := mockKey(orgID, sessionID)
	if _, ok := m.conversations[k]; !ok {
		return nil, ErrNotFound
	}
	msgs := make([]*Message, 0, len(m.messages[k]))
	for _, msg := range m.messages[k] {
		cp := *msg
		msgs = append(msgs, &cp)
	}
	return msgs, nil
}

func (m *MockStore) mutate(orgID, sessionID string, actor Actor, fn func(*Conversation) *change) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := mockKey(orgID, sessionID)
	conv, ok := m.conversations[k]
	if !ok {
		return false, ErrNotFound
	}
	c := fn(conv)
	if c == nil {
		return false, nil
	}
	now := m.now()
	conv.UpdatedAt = now
	m.events[k] = append(m.events[k], c.event(conv, actor, now))
	return true, nil
}

// SetStatus updates a conversation's status.
func (m *MockStore) SetStatus(ctx context.Context, orgID, sessionID string, status Status, actor Actor) (bool, error) {
	if !status.Valid() {
		return false, Invalid("status", "must be open, snoozed or closed")
	}
	return m.mutate(orgID, sessionID, actor, func(c *Conversation) *change {
		return statusChange(c, status)
	})
}

// SetMode updates a conversation's mode.
func (m *MockStore) SetMode(ctx context.Context, orgID, sessionID string, mode Mode, actor Actor) (bool, error) {
	if !mode.Valid() {
		return false, Invalid("mode", "must be agent or manual")
	}
	return m.mutate(orgID, sessionID, actor, func(c *Conversation) *change {
		return modeChange(c, mode)
	})
}

// SetAssignee updates a conversation's assigned agent.
func (m *MockStore) SetAssignee(ctx context.Context, orgID, sessionID, agentID, agentName string, actor Actor) (bool, error) {
	return m.mutate(orgID, sessionID, actor, func(c *Conversation) *change {
		return assigneeChange(c, agentID, agentName)
	})
}

// AddNote stores a note and its audit event.
func (m *MockStore) AddNote(ctx context.Context, note *Note) error {
	if strings.TrimSpace(note.Note) == "" {
		return Invalid("note", "must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := mockKey(note.OrgID, note.SessionID)
	if _, ok := m.conversations[k]; !ok {
		return ErrNotFound
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.CreatedAt = m.now()

	cp := *note
	m.notes[k] = append(m.notes[k], &cp)
	m.events[k] = append(m.events[k], noteEvent(note))
	return nil
}

// ListNotes returns a conversation's notes, oldest first.
func (m *MockStore) ListNotes(ctx context.Context, orgID, sessionID string) ([]*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var notes []*Note
	for _, n := range m.notes[mockKey(orgID, sessionID)] {
		cp := *n
		notes = append(notes, &cp)
	}
	return notes, nil
}

// ListEvents returns a conversation's events, newest first.
func (m *MockStore) ListEvents(ctx context.Context, orgID, sessionID string, limit int) ([]*ConversationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[mockKey(orgID, sessionID)]
	events := make([]*ConversationEvent, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		cp := *src[i]
		events = append(events, &cp)
	}

	limit = clampLimit(limit, defaultEventLimit, maxListLimit)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// UpsertKnowledgeEntry creates or replaces an entry.
func (m *MockStore) UpsertKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	if err := normalizeKnowledge(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e.UpdatedAt = now
	if existing, ok := m.knowledge[e.ID]; ok && e.ID != "" {
		if existing.OrgID != e.OrgID {
			return ErrNotFound
		}
		e.CreatedAt = existing.CreatedAt
	} else {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
	}

	m.knowledge[e.ID] = copyKnowledge(e)
	return nil
}

// DeleteKnowledgeEntry removes an entry.
func (m *MockStore) DeleteKnowledgeEntry(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.knowledge[id]
	if !ok || e.OrgID != orgID {
		return ErrNotFound
	}
	delete(m.knowledge, id)
	return nil
}

// ListKnowledgeEntries returns the organization's entries.
func (m *MockStore) ListKnowledgeEntries(ctx context.Context, orgID string, activeOnly bool) ([]*KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*KnowledgeEntry
	for _, e := range m.knowledge {
		if e.OrgID != orgID || (activeOnly && !e.Active) {
			continue
		}
		entries = append(entries, copyKnowledge(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func copyContact(c *Contact) *Contact {
	cp := *c
	cp.Tags = slices.Clone(c.Tags)
	return &cp
}

func copyKnowledge(e *KnowledgeEntry) *KnowledgeEntry {
	cp := *e
	cp.Phrases = slices.Clone(e.Phrases)
	cp.Tags = slices.Clone(e.Tags)
	return &cp
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
