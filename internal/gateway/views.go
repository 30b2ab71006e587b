// ABOUTME: JSON request and response shapes for the HTTP API
// ABOUTME: Converts store records and bus events into snake_case API views

package gateway

import (
	"time"

	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/presence"
	"github.com/2389/support-gateway/internal/store"
)

// ContactRequest is the optional visitor identity sent with an inbound message.
type ContactRequest struct {
	ID       string   `json:"id,omitempty"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	Company  string   `json:"company,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// InboundRequest is the JSON body for POST /api/sessions/{sessionID}/inbound.
type InboundRequest struct {
	Content         string          `json:"content"`
	ClientMessageID string          `json:"client_message_id,omitempty"`
	Contact         *ContactRequest `json:"contact,omitempty"`
}

// InboundResponse reports the stored inbound message and what happened next.
type InboundResponse struct {
	MessageID string           `json:"message_id,omitempty"`
	SessionID string           `json:"session_id"`
	ContactID string           `json:"contact_id,omitempty"`
	Action    string           `json:"action,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Reply     *MessageResponse `json:"reply,omitempty"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// AgentMessageRequest is the JSON body for a human agent reply.
type AgentMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// ModeRequest is the JSON body for PUT .../mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// StatusRequest is the JSON body for PUT .../status.
type StatusRequest struct {
	Status string `json:"status"`
}

// AssigneeRequest is the JSON body for PUT .../assignee. An empty AgentID
// assigns the caller.
type AssigneeRequest struct {
	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// NoteRequest is the JSON body for POST .../notes.
type NoteRequest struct {
	Note string `json:"note"`
}

// PresenceRequest is the JSON body for PUT .../presence.
type PresenceRequest struct {
	Status    string `json:"status"`
	ActorName string `json:"actor_name,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// KnowledgeRequest is the JSON body for POST /api/knowledge.
type KnowledgeRequest struct {
	ID        string   `json:"id,omitempty"`
	Title     string   `json:"title"`
	Slug      string   `json:"slug,omitempty"`
	Content   string   `json:"content"`
	MatchMode string   `json:"match_mode,omitempty"`
	Phrases   []string `json:"phrases,omitempty"`
	// PhrasesText is the comma or newline separated form used by the dashboard.
	PhrasesText string   `json:"phrases_text,omitempty"`
	Priority    int      `json:"priority"`
	Active      *bool    `json:"active,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ConversationResponse is the API view of a conversation summary.
type ConversationResponse struct {
	SessionID         string `json:"session_id"`
	Origin            string `json:"origin"`
	ContactID         string `json:"contact_id,omitempty"`
	ContactName       string `json:"contact_name,omitempty"`
	ContactEmail      string `json:"contact_email,omitempty"`
	Subject           string `json:"subject,omitempty"`
	Status            string `json:"status"`
	Mode              string `json:"mode"`
	AssignedAgentID   string `json:"assigned_agent_id,omitempty"`
	AssignedAgentName string `json:"assigned_agent_name,omitempty"`
	FirstAt           string `json:"first_at"`
	LastAt            string `json:"last_at"`
	LastRole          string `json:"last_role"`
	LastMessage       string `json:"last_message"`
	TotalMessages     int    `json:"total_messages"`
}

// EmailResponse is the email payload of a message.
type EmailResponse struct {
	Subject   string `json:"subject,omitempty"`
	HTMLBody  string `json:"html_body,omitempty"`
	TextBody  string `json:"text_body,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// MessageResponse is the API view of a message.
type MessageResponse struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Seq             int64          `json:"seq"`
	Role            string         `json:"role"`
	Content         string         `json:"content"`
	Source          string         `json:"source"`
	AgentName       string         `json:"agent_name,omitempty"`
	ContactID       string         `json:"contact_id,omitempty"`
	ClientMessageID string         `json:"client_message_id,omitempty"`
	Email           *EmailResponse `json:"email,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

// KnowledgeResponse is the API view of a knowledge entry.
type KnowledgeResponse struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Slug      string   `json:"slug"`
	Content   string   `json:"content"`
	MatchMode string   `json:"match_mode"`
	Phrases   []string `json:"phrases"`
	Priority  int      `json:"priority"`
	Active    bool     `json:"active"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updated_at"`
}

// NoteResponse is the API view of an internal note.
type NoteResponse struct {
	ID        string `json:"id"`
	Note      string `json:"note"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	CreatedAt string `json:"created_at"`
}

// EventResponse is the API view of an audit trail entry.
type EventResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	Payload   string `json:"payload,omitempty"`
	CreatedAt string `json:"created_at"`
}

// PresenceResponse is one live presence record.
type PresenceResponse struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// StreamEvent is the data of one SSE event on /api/stream.
type StreamEvent struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	SessionID    string                `json:"session_id"`
	At           string                `json:"at"`
	Conversation *ConversationResponse `json:"conversation,omitempty"`
	Message      *MessageResponse      `json:"message,omitempty"`
	Presence     *PresenceResponse     `json:"presence,omitempty"`
	Note         *NoteResponse         `json:"note,omitempty"`
	Mode         string                `json:"mode,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func conversationView(c *store.Conversation) *ConversationResponse {
	if c == nil {
		return nil
	}
	return &ConversationResponse{
		SessionID:         c.SessionID,
		Origin:            string(c.Origin),
		ContactID:         c.ContactID,
		ContactName:       c.ContactName,
		ContactEmail:      c.ContactEmail,
		Subject:           c.Subject,
		Status:            string(c.Status),
		Mode:              string(c.Mode),
		AssignedAgentID:   c.AssignedAgentID,
		AssignedAgentName: c.AssignedAgentName,
		FirstAt:           formatTimestamp(c.FirstAt),
		LastAt:            formatTimestamp(c.LastAt),
		LastRole:          string(c.LastRole),
		LastMessage:       c.LastMessage,
		TotalMessages:     c.TotalMessages,
	}
}

func messageView(m *store.Message) *MessageResponse {
	if m == nil {
		return nil
	}
	resp := &MessageResponse{
		ID:              m.ID,
		SessionID:       m.SessionID,
		Seq:             m.Seq,
		Role:            string(m.Role),
		Content:         m.Content,
		Source:          string(m.Source),
		AgentName:       m.AgentName,
		ContactID:       m.ContactID,
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       formatTimestamp(m.CreatedAt),
	}
	if m.Email != nil {
		resp.Email = &EmailResponse{
			Subject:   m.Email.Subject,
			HTMLBody:  m.Email.HTMLBody,
			TextBody:  m.Email.TextBody,
			MessageID: m.Email.MessageID,
		}
	}
	return resp
}

func knowledgeView(e *store.KnowledgeEntry) KnowledgeResponse {
	phrases := e.Phrases
	if phrases == nil {
		phrases = []string{}
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return KnowledgeResponse{
		ID:        e.ID,
		Title:     e.Title,
		Slug:      e.Slug,
		Content:   e.Content,
		MatchMode: string(e.MatchMode),
		Phrases:   phrases,
		Priority:  e.Priority,
		Active:    e.Active,
		Tags:      tags,
		UpdatedAt: formatTimestamp(e.UpdatedAt),
	}
}

func noteView(n *store.Note) *NoteResponse {
	if n == nil {
		return nil
	}
	return &NoteResponse{
		ID:        n.ID,
		Note:      n.Note,
		ActorID:   n.ActorID,
		ActorName: n.ActorName,
		CreatedAt: formatTimestamp(n.CreatedAt),
	}
}

func eventView(e *store.ConversationEvent) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Payload:   e.Payload,
		CreatedAt: formatTimestamp(e.CreatedAt),
	}
}

func presenceView(r *presence.Record) *PresenceResponse {
	if r == nil {
		return nil
	}
	return &PresenceResponse{
		ActorID:   r.ActorID,
		ActorName: r.ActorName,
		Status:    string(r.Status),
		UpdatedAt: formatTimestamp(r.UpdatedAt),
	}
}

func streamView(ev *conversation.Event) StreamEvent {
	return StreamEvent{
		ID:           ev.ID,
		Type:         string(ev.Type),
		SessionID:    ev.SessionID,
		At:           formatTimestamp(ev.At),
		Conversation: conversationView(ev.Conversation),
		Message:      messageView(ev.Message),
		Presence:     presenceView(ev.Presence),
		Note:         noteView(ev.Note),
		Mode:         string(ev.Mode),
	}
}
