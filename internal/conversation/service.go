// ABOUTME: Conversation service: the single write path for messages and conversation state
// ABOUTME: Persists first, then publishes to viewers; closing a conversation clears its presence

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/support-gateway/internal/store"
)

// PresenceClearer drops presence state for a session.
type PresenceClearer interface {
	Clear(ctx context.Context, orgID, sessionID string) error
}

// Service is the conversation layer used by the dispatcher and by human
// agents. Every write is persisted before any event is published.
type Service struct {
	store    store.ConversationStore
	presence PresenceClearer
	events   *EventBroadcaster
	logger   *slog.Logger
}

// New creates a conversation Service. presence and events may be nil.
func New(s store.ConversationStore, presence PresenceClearer, events *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		presence: presence,
		events:   events,
		logger:   logger.With("component", "conversation"),
	}
}

// AppendMessage stores a message, creating the conversation on first use.
// A retry carrying an already-stored ClientMessageID returns the original
// message with Duplicate set and publishes nothing.
func (s *Service) AppendMessage(ctx context.Context, p *store.AppendParams) (*store.AppendResult, error) {
	res, err := s.store.AppendMessage(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	if res.Duplicate {
		s.logger.Debug("duplicate append ignored",
			"org_id", p.OrgID,
			"session_id", p.SessionID,
			"client_message_id", p.ClientMessageID)
		return res, nil
	}

	s.logger.Debug("message appended",
		"org_id", p.OrgID,
		"session_id", p.SessionID,
		"message_id", res.Message.ID,
		"role", res.Message.Role,
		"source", res.Message.Source)

	s.publish(&Event{
		Type:      EventMessageAppended,
		OrgID:     p.OrgID,
		SessionID: p.SessionID,
		At:        res.Message.CreatedAt,
		Message:   res.Message,
	})
	s.publish(&Event{
		Type:         EventConversationUpdated,
		OrgID:        p.OrgID,
		SessionID:    p.SessionID,
		Conversation: res.Conversation,
	})
	return res, nil
}

// GetConversation returns a conversation summary.
func (s *Service) GetConversation(ctx context.Context, orgID, sessionID string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, orgID, sessionID)
}

// ListConversations returns the organization's conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context, orgID string, limit int) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, orgID, limit)
}

// ListMessages returns a session's messages in order.
func (s *Service) ListMessages(ctx context.Context, orgID, sessionID string) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, orgID, sessionID)
}

// History returns at most the last n messages of a session, oldest first.
func (s *Service) History(ctx context.Context, orgID, sessionID string, n int) ([]*store.Message, error) {
	msgs, err := s.store.ListMessages(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// SetStatus moves a conversation to status. Any transition is allowed;
// entering closed clears the session's presence.
func (s *Service) SetStatus(ctx context.Context, orgID, sessionID string, status store.Status, actor store.Actor) (*store.Conversation, error) {
	changed, err := s.store.SetStatus(ctx, orgID, sessionID, status, actor)
	if err != nil {
		return nil, fmt.Errorf("setting status: %w", err)
	}

	if status == store.StatusClosed && s.presence != nil {
		// Best-effort: a stale typing indicator expires on its own.
		if err := s.presence.Clear(ctx, orgID, sessionID); err != nil {
			s.logger.Warn("failed to clear presence on close",
				"org_id", orgID,
				"session_id", sessionID,
				"error", err)
		}
	}

	return s.afterChange(ctx, orgID, sessionID, changed, "status", string(status))
}

// Assign sets the human agent responsible for a conversation.
func (s *Service) Assign(ctx context.Context, orgID, sessionID, agentID, agentName string, actor store.Actor) (*store.Conversation, error) {
	if agentID == "" {
		return nil, store.Invalid("agent_id", "required")
	}
	changed, err := s.store.SetAssignee(ctx, orgID, sessionID, agentID, agentName, actor)
	if err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}
	return s.afterChange(ctx, orgID, sessionID, changed, "assignee", agentID)
}

// Unassign clears the assigned agent.
func (s *Service) Unassign(ctx context.Context, orgID, sessionID string, actor store.Actor) (*store.Conversation, error) {
	changed, err := s.store.SetAssignee(ctx, orgID, sessionID, "", "", actor)
	if err != nil {
		return nil, fmt.Errorf("unassigning conversation: %w", err)
	}
	return s.afterChange(ctx, orgID, sessionID, changed, "assignee", "")
}

// AddNote attaches an internal note. Notes are never shown to the visitor.
func (s *Service) AddNote(ctx context.Context, orgID, sessionID, text string, actor store.Actor) (*store.Note, error) {
	note := &store.Note{
		OrgID:     orgID,
		SessionID: sessionID,
		Note:      text,
		ActorID:   actor.ID,
		ActorName: actor.Name,
	}
	if err := s.store.AddNote(ctx, note); err != nil {
		return nil, fmt.Errorf("adding note: %w", err)
	}

	s.publish(&Event{
		Type:      EventNoteAdded,
		OrgID:     orgID,
		SessionID: sessionID,
		At:        note.CreatedAt,
		Note:      note,
	})
	return note, nil
}

// ListNotes returns a conversation's notes, oldest first.
func (s *Service) ListNotes(ctx context.Context, orgID, sessionID string) ([]*store.Note, error) {
	return s.store.ListNotes(ctx, orgID, sessionID)
}

// ListEvents returns a conversation's audit trail, newest first.
func (s *Service) ListEvents(ctx context.Context, orgID, sessionID string, limit int) ([]*store.ConversationEvent, error) {
	return s.store.ListEvents(ctx, orgID, sessionID, limit)
}

// afterChange reloads the conversation and, when it changed, tells viewers.
func (s *Service) afterChange(ctx context.Context, orgID, sessionID string, changed bool, field, value string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return conv, nil
	}

	s.logger.Info("conversation updated",
		"org_id", orgID,
		"session_id", sessionID,
		field, value)
	s.publish(&Event{
		Type:         EventConversationUpdated,
		OrgID:        orgID,
		SessionID:    sessionID,
		At:           conv.UpdatedAt,
		Conversation: conv,
	})
	return conv, nil
}

func (s *Service) publish(ev *Event) {
	if s.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.events.Publish(ev, "")
}
