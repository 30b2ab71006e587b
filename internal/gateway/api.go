// ABOUTME: HTTP API handlers for conversations, agent replies, presence and knowledge
// ABOUTME: Every handler is scoped to the organization of the authenticated caller

package gateway

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/email"
	"github.com/2389/support-gateway/internal/knowledge"
	"github.com/2389/support-gateway/internal/presence"
	"github.com/2389/support-gateway/internal/store"
)

// visitorActorID is the presence actor of a widget token.
const visitorActorID = "visitor"

// handleGetConversation handles GET /api/sessions/{sessionID}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	conv, err := g.conversation.GetConversation(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationView(conv))
}

// handleListConversations handles GET /api/conversations?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	convs, err := g.conversation.ListConversations(r.Context(), authCtx.OrgID, limit)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]*ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, conversationView(c))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"conversations": resp})
}

// handleListMessages handles GET /api/sessions/{sessionID}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	msgs, err := g.conversation.ListMessages(r.Context(), authCtx.OrgID, sessionID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageView(m))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": resp})
}

// handleAgentMessage handles POST /api/sessions/{sessionID}/messages: a
// human agent reply. It never passes through the knowledge matcher or the
// assistant.
func (g *Gateway) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	var req AgentMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	conv, err := g.conversation.GetConversation(ctx, authCtx.OrgID, sessionID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	actor := authCtx.Actor()
	params := &store.AppendParams{
		OrgID:           authCtx.OrgID,
		SessionID:       sessionID,
		Role:            store.RoleAssistant,
		Content:         req.Content,
		Source:          store.SourceHuman,
		AgentName:       actor.Name,
		ClientMessageID: req.ClientMessageID,
	}
	if conv.Origin == store.OriginEmail && strings.TrimSpace(req.Content) != "" {
		payload, err := email.Render(conv, req.Content)
		if err != nil {
			g.sendError(w, r, err)
			return
		}
		params.Email = payload
	}

	res, err := g.conversation.AppendMessage(ctx, params)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	// Sending clears the composer.
	if _, err := g.presence.SetPresence(ctx, presence.Update{
		OrgID:     authCtx.OrgID,
		SessionID: sessionID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Status:    presence.StatusIdle,
		Force:     true,
	}); err != nil {
		g.logger.Warn("failed to reset agent presence", "session_id", sessionID, "error", err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	g.sendJSON(w, status, messageView(res.Message))
}

// handleSetMode handles PUT /api/sessions/{sessionID}/mode.
func (g *Gateway) handleSetMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	var req ModeRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	changed, err := g.modes.SetMode(ctx, authCtx.OrgID, sessionID, store.Mode(req.Mode), authCtx.Actor())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	conv, err := g.conversation.GetConversation(ctx, authCtx.OrgID, sessionID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"changed":      changed,
		"conversation": conversationView(conv),
	})
}

// handleSetStatus handles PUT /api/sessions/{sessionID}/status.
func (g *Gateway) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	conv, err := g.conversation.SetStatus(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"),
		store.Status(req.Status), authCtx.Actor())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationView(conv))
}

// handleAssign handles PUT /api/sessions/{sessionID}/assignee.
func (g *Gateway) handleAssign(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req AssigneeRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	actor := authCtx.Actor()
	if strings.TrimSpace(req.AgentID) == "" {
		req.AgentID, req.AgentName = actor.ID, actor.Name
	}

	conv, err := g.conversation.Assign(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"),
		req.AgentID, req.AgentName, actor)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationView(conv))
}

// handleUnassign handles DELETE /api/sessions/{sessionID}/assignee.
func (g *Gateway) handleUnassign(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	conv, err := g.conversation.Unassign(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"), authCtx.Actor())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conversationView(conv))
}

// handleAddNote handles POST /api/sessions/{sessionID}/notes.
func (g *Gateway) handleAddNote(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req NoteRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	note, err := g.conversation.AddNote(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"), req.Note, authCtx.Actor())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, noteView(note))
}

// handleListNotes handles GET /api/sessions/{sessionID}/notes.
func (g *Gateway) handleListNotes(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	notes, err := g.conversation.ListNotes(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]*NoteResponse, 0, len(notes))
	for _, n := range notes {
		resp = append(resp, noteView(n))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"notes": resp})
}

// handleListEvents handles GET /api/sessions/{sessionID}/events?limit=N.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	events, err := g.conversation.ListEvents(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventView(e))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"events": resp})
}

// handleSetPresence handles PUT /api/sessions/{sessionID}/presence. The
// write is best effort: a backend failure is logged and still acked.
func (g *Gateway) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.MustFromContext(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	var req PresenceRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}
	status := presence.Status(req.Status)
	if status != presence.StatusTyping && status != presence.StatusIdle {
		g.sendError(w, r, store.Invalid("status", "must be typing or idle"))
		return
	}

	actor := authCtx.Actor()
	if authCtx.Role == auth.RoleWidget {
		actor.ID = visitorActorID
	}
	if req.ActorName != "" {
		actor.Name = req.ActorName
	}

	accepted, err := g.presence.SetPresence(ctx, presence.Update{
		OrgID:     authCtx.OrgID,
		SessionID: sessionID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Status:    status,
		Force:     req.Force,
	})
	if err != nil {
		g.logger.Warn("presence write failed", "org_id", authCtx.OrgID, "session_id", sessionID, "error", err)
	}
	g.sendJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

// handleGetPresence handles GET /api/sessions/{sessionID}/presence.
func (g *Gateway) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	typing, err := g.presence.Typing(r.Context(), authCtx.OrgID, chi.URLParam(r, "sessionID"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]*PresenceResponse, 0, len(typing))
	for i := range typing {
		resp = append(resp, presenceView(&typing[i]))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"typing": resp})
}

// handleListKnowledge handles GET /api/knowledge.
func (g *Gateway) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	entries, err := g.knowledge.List(r.Context(), authCtx.OrgID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := make([]KnowledgeResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, knowledgeView(e))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

// handleUpsertKnowledge handles POST /api/knowledge.
func (g *Gateway) handleUpsertKnowledge(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req KnowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	phrases := req.Phrases
	if len(phrases) == 0 && req.PhrasesText != "" {
		phrases = knowledge.SplitPhrases(req.PhrasesText)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	entry := &store.KnowledgeEntry{
		ID:        req.ID,
		OrgID:     authCtx.OrgID,
		Title:     req.Title,
		Slug:      req.Slug,
		Content:   req.Content,
		MatchMode: store.MatchMode(req.MatchMode),
		Phrases:   phrases,
		Priority:  req.Priority,
		Active:    active,
		Tags:      req.Tags,
	}
	if err := g.knowledge.Upsert(r.Context(), entry); err != nil {
		g.sendError(w, r, err)
		return
	}

	status := http.StatusOK
	if req.ID == "" {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, knowledgeView(entry))
}

// handleDeleteKnowledge handles DELETE /api/knowledge/{entryID}.
func (g *Gateway) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	if err := g.knowledge.Delete(r.Context(), authCtx.OrgID, chi.URLParam(r, "entryID")); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
