// ABOUTME: Typed events published on the conversation event bus
// ABOUTME: One struct carries message, conversation, presence and audit payloads

package conversation

import (
	"time"

	"github.com/2389/support-gateway/internal/presence"
	"github.com/2389/support-gateway/internal/store"
)

// EventType names what happened.
type EventType string

const (
	EventMessageAppended     EventType = "message_appended"
	EventConversationUpdated EventType = "conversation_updated"
	EventModeChanged         EventType = "mode_changed"
	EventPresenceChanged     EventType = "presence_changed"
	EventNoteAdded           EventType = "note_added"
)

// Event is delivered to subscribers of the organization and of the session.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	OrgID     string    `json:"org_id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	Conversation *store.Conversation `json:"conversation,omitempty"`
	Message      *store.Message      `json:"message,omitempty"`
	Presence     *presence.Record    `json:"presence,omitempty"`
	Note         *store.Note         `json:"note,omitempty"`
	Mode         store.Mode          `json:"mode,omitempty"`
}
