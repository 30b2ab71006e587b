// ABOUTME: Backend-independent rules for appending messages and mutating conversations
// ABOUTME: Shared by SQLiteStore and MockStore so both enforce the same invariants

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// validateAppend checks the caller-supplied fields of an append.
func validateAppend(p *AppendParams) error {
	if p == nil {
		return Invalid("message", "missing")
	}
	if strings.TrimSpace(p.OrgID) == "" {
		return Invalid("org_id", "required")
	}
	if strings.TrimSpace(p.SessionID) == "" {
		return Invalid("session_id", "required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return Invalid("content", "must not be empty")
	}
	switch p.Role {
	case RoleUser, RoleAssistant:
	default:
		return Invalid("role", "must be user or assistant")
	}
	switch p.Origin {
	case "", OriginChat, OriginEmail:
	default:
		return Invalid("origin", "must be chat or email")
	}
	return nil
}

// newConversation builds the summary record for a session's first message.
func newConversation(p *AppendParams, now time.Time) *Conversation {
	origin := p.Origin
	if origin == "" {
		origin = OriginChat
	}
	return &Conversation{
		SessionID: p.SessionID,
		OrgID:     p.OrgID,
		Origin:    origin,
		Status:    StatusOpen,
		Mode:      ModeAgent,
		FirstAt:   now,
		LastAt:    now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// nextTimestamp returns now, clamped so it never precedes the session's LastAt.
func nextTimestamp(conv *Conversation, now time.Time) time.Time {
	if conv != nil && !now.After(conv.LastAt) {
		return conv.LastAt
	}
	return now
}

// newMessage builds the stored message for p at the given position.
func newMessage(p *AppendParams, seq int64, at time.Time) *Message {
	source := p.Source
	if source == "" {
		if p.Role == RoleUser {
			source = SourceVisitor
		} else {
			source = SourceHuman
		}
	}
	return &Message{
		ID:              uuid.New().String(),
		OrgID:           p.OrgID,
		SessionID:       p.SessionID,
		Seq:             seq,
		Role:            p.Role,
		Content:         p.Content,
		Source:          source,
		AgentName:       p.AgentName,
		ContactID:       p.ContactID,
		ClientMessageID: p.ClientMessageID,
		Email:           p.Email,
		CreatedAt:       at,
	}
}

// applyAppend folds msg into the conversation summary.
func applyAppend(conv *Conversation, p *AppendParams, msg *Message) {
	conv.LastAt = msg.CreatedAt
	conv.UpdatedAt = msg.CreatedAt
	conv.LastRole = msg.Role
	conv.LastMessage = Snippet(strings.TrimSpace(msg.Content))
	conv.TotalMessages++

	if p.ContactID != "" {
		conv.ContactID = p.ContactID
	}
	if p.ContactName != "" {
		conv.ContactName = p.ContactName
	}
	if p.ContactEmail != "" {
		conv.ContactEmail = p.ContactEmail
	}
	if conv.Subject == "" && p.Email != nil && p.Email.Subject != "" {
		conv.Subject = p.Email.Subject
	}
}

// change is a pending conversation mutation and the audit event it produces.
type change struct {
	eventType string
	payload   map[string]string
}

// statusChange applies status to conv. Returns nil when nothing changed.
func statusChange(conv *Conversation, status Status) *change {
	if conv.Status == status {
		return nil
	}
	c := &change{
		eventType: EventStatusChanged,
		payload:   map[string]string{"from": string(conv.Status), "to": string(status)},
	}
	conv.Status = status
	return c
}

// modeChange applies mode to conv. Returns nil when nothing changed.
func modeChange(conv *Conversation, mode Mode) *change {
	if conv.Mode == mode {
		return nil
	}
	c := &change{
		eventType: EventModeChanged,
		payload:   map[string]string{"from": string(conv.Mode), "to": string(mode)},
	}
	conv.Mode = mode
	return c
}

// assigneeChange applies an assignment to conv; an empty agentID clears it.
func assigneeChange(conv *Conversation, agentID, agentName string) *change {
	if conv.AssignedAgentID == agentID && (agentID == "" || conv.AssignedAgentName == agentName) {
		return nil
	}
	var c *change
	if agentID == "" {
		c = &change{
			eventType: EventAssignmentCleared,
			payload:   map[string]string{"previous_agent_id": conv.AssignedAgentID},
		}
	} else {
		c = &change{
			eventType: EventAssignmentChanged,
			payload: map[string]string{
				"previous_agent_id": conv.AssignedAgentID,
				"agent_id":          agentID,
				"agent_name":        agentName,
			},
		}
	}
	conv.AssignedAgentID = agentID
	conv.AssignedAgentName = agentName
	return c
}

// event materializes a change into an audit event.
func (c *change) event(conv *Conversation, actor Actor, at time.Time) *ConversationEvent {
	payload, _ := json.Marshal(c.payload)
	return &ConversationEvent{
		ID:        uuid.New().String(),
		OrgID:     conv.OrgID,
		SessionID: conv.SessionID,
		Type:      c.eventType,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Payload:   string(payload),
		CreatedAt: at,
	}
}

// noteEvent is the audit event recorded alongside a note.
func noteEvent(note *Note) *ConversationEvent {
	payload, _ := json.Marshal(map[string]string{"note_id": note.ID})
	return &ConversationEvent{
		ID:        uuid.New().String(),
		OrgID:     note.OrgID,
		SessionID: note.SessionID,
		Type:      EventNoteAdded,
		ActorID:   note.ActorID,
		ActorName: note.ActorName,
		Payload:   string(payload),
		CreatedAt: note.CreatedAt,
	}
}

// normalizeKnowledge validates e and cleans its phrases and slug in place.
func normalizeKnowledge(e *KnowledgeEntry) error {
	if strings.TrimSpace(e.OrgID) == "" {
		return Invalid("org_id", "required")
	}
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return Invalid("title", "required")
	}
	if strings.TrimSpace(e.Content) == "" {
		return Invalid("content", "required")
	}
	if e.MatchMode == "" {
		e.MatchMode = MatchContains
	}
	if !e.MatchMode.Valid() {
		return Invalid("match_mode", "must be contains, exact or regex")
	}
	e.Slug = strings.ToLower(strings.TrimSpace(e.Slug))

	phrases := make([]string, 0, len(e.Phrases))
	for _, p := range e.Phrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	e.Phrases = phrases
	return nil
}

const (
	defaultListLimit  = 200
	maxListLimit      = 1000
	defaultEventLimit = 200
)

func clampLimit(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	if limit > upper {
		return upper
	}
	return limit
}
