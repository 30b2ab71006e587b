// ABOUTME: Store interfaces and data types for support-gateway persistence
// ABOUTME: Defines contacts, conversations, messages, knowledge entries, events and notes

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is the sentinel matched by every ValidationError
var ErrValidation = errors.New("validation failed")

// ErrTransient is returned when a write failed for a reason worth retrying
// (database busy or locked).
var ErrTransient = errors.New("transient write failure")

// ErrDuplicate is returned when a uniqueness constraint rejects a write
var ErrDuplicate = errors.New("already exists")

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Origin is the channel a conversation started on.
type Origin string

const (
	OriginChat  Origin = "chat"
	OriginEmail Origin = "email"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen    Status = "open"
	StatusSnoozed Status = "snoozed"
	StatusClosed  Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSnoozed, StatusClosed:
		return true
	}
	return false
}

// Mode decides who may reply: the automated assistant or only humans.
type Mode string

const (
	ModeAgent  Mode = "agent"
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAgent || m == ModeManual
}

// Role is the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source records who actually produced a message.
type Source string

const (
	SourceVisitor Source = "visitor"
	SourceCanned  Source = "canned"
	SourceAI      Source = "ai"
	SourceHuman   Source = "human"
)

// MatchMode is how a knowledge entry's trigger phrases are compared to text.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchRegex    MatchMode = "regex"
)

// Valid reports whether m is a known match mode.
func (m MatchMode) Valid() bool {
	switch m {
	case MatchContains, MatchExact, MatchRegex:
		return true
	}
	return false
}

// EventType constants for the conversation audit trail
const (
	EventStatusChanged     = "status_changed"
	EventModeChanged       = "mode_changed"
	EventAssignmentChanged = "assignment_changed"
	EventAssignmentCleared = "assignment_cleared"
	EventNoteAdded         = "note_added"
)

// SnippetLength is the maximum number of runes kept in Conversation.LastMessage
const SnippetLength = 280

// Contact is a visitor identity within an organization
type Contact struct {
	ID        string
	OrgID     string
	Email     string // lower-cased; empty when unknown
	Phone     string
	FullName  string
	Company   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is the session summary record
type Conversation struct {
	SessionID         string
	OrgID             string
	Origin            Origin
	ContactID         string
	ContactName       string
	ContactEmail      string
	Subject           string
	Status            Status
	Mode              Mode
	AssignedAgentID   string
	AssignedAgentName string
	FirstAt           time.Time
	LastAt            time.Time
	LastRole          Role
	LastMessage       string
	TotalMessages     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EmailPayload carries the channel-specific body of an email message
type EmailPayload struct {
	Subject  string
	HTMLBody string
	TextBody string
	// MessageID is the RFC 5322 Message-ID, when known
	MessageID string
}

// Message is a single immutable entry in a conversation
type Message struct {
	ID              string
	OrgID           string
	SessionID       string
	Seq             int64
	Role            Role
	Content         string
	Source          Source
	AgentName       string
	ContactID       string
	ClientMessageID string
	Email           *EmailPayload
	CreatedAt       time.Time
}

// KnowledgeEntry is a trigger-phrase rule with a canned response
type KnowledgeEntry struct {
	ID        string
	OrgID     string
	Title     string
	Slug      string
	Content   string
	MatchMode MatchMode
	Phrases   []string
	Priority  int
	Active    bool
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationEvent is one entry in a conversation's audit trail
type ConversationEvent struct {
	ID        string
	OrgID     string
	SessionID string
	Type      string
	ActorID   string
	ActorName string
	Payload   string // JSON
	CreatedAt time.Time
}

// Note is an internal agent note attached to a conversation
type Note struct {
	ID        string
	OrgID     string
	SessionID string
	Note      string
	ActorID   string
	ActorName string
	CreatedAt time.Time
}

// Actor identifies who performed an operator action
type Actor struct {
	ID   string
	Name string
}

// AppendParams describes a message to append. Conversation-level fields
// (Origin, contact snapshot, Subject) are only used when the conversation
// is created or when they fill in a previously empty value.
type AppendParams struct {
	OrgID           string
	SessionID       string
	Origin          Origin
	Role            Role
	Content         string
	Source          Source
	AgentName       string
	ContactID       string
	ContactName     string
	ContactEmail    string
	ClientMessageID string
	Email           *EmailPayload
}

// AppendResult is returned by AppendMessage
type AppendResult struct {
	Message      *Message
	Conversation *Conversation
	// Created is true when this append created the conversation
	Created bool
	// Duplicate is true when ClientMessageID matched an earlier message;
	// Message is then that earlier message and nothing was written.
	Duplicate bool
}

// ContactStore persists contacts
type ContactStore interface {
	GetContact(ctx context.Context, orgID, id string) (*Contact, error)
	GetContactByEmail(ctx context.Context, orgID, email string) (*Contact, error)
	CreateContact(ctx context.Context, c *Contact) error
	UpdateContact(ctx context.Context, c *Contact) error
}

// ConversationStore persists conversations, messages and their audit trail.
// Every method is scoped to one organization.
type ConversationStore interface {
	AppendMessage(ctx context.Context, p *AppendParams) (*AppendResult, error)
	GetConversation(ctx context.Context, orgID, sessionID string) (*Conversation, error)
	ListConversations(ctx context.Context, orgID string, limit int) ([]*Conversation, error)
	ListMessages(ctx context.Context, orgID, sessionID string) ([]*Message, error)

	// Mutators return changed=false when the value already matched.
	SetStatus(ctx context.Context, orgID, sessionID string, status Status, actor Actor) (bool, error)
	SetMode(ctx context.Context, orgID, sessionID string, mode Mode, actor Actor) (bool, error)
	SetAssignee(ctx context.Context, orgID, sessionID, agentID, agentName string, actor Actor) (bool, error)

	AddNote(ctx context.Context, note *Note) error
	ListNotes(ctx context.Context, orgID, sessionID string) ([]*Note, error)
	ListEvents(ctx context.Context, orgID, sessionID string, limit int) ([]*ConversationEvent, error)
}

// KnowledgeStore persists knowledge entries
type KnowledgeStore interface {
	UpsertKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error
	DeleteKnowledgeEntry(ctx context.Context, orgID, id string) error
	ListKnowledgeEntries(ctx context.Context, orgID string, activeOnly bool) ([]*KnowledgeEntry, error)
}

// Store is everything the gateway persists
type Store interface {
	ContactStore
	ConversationStore
	KnowledgeStore

	Ping(ctx context.Context) error
	Close() error
}

// Snippet trims s to SnippetLength runes for conversation summaries.
func Snippet(s string) string {
	r := []rune(s)
	if len(r) <= SnippetLength {
		return s
	}
	return string(r[:SnippetLength])
}
