// ABOUTME: Inbound message endpoints that hand visitor messages to the dispatcher
// ABOUTME: Covers the chat widget route and the inbound email webhook

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/contact"
	"github.com/2389/support-gateway/internal/dedupe"
	"github.com/2389/support-gateway/internal/dispatch"
	"github.com/2389/support-gateway/internal/email"
	"github.com/2389/support-gateway/internal/store"
)

// handleInbound handles POST /api/sessions/{sessionID}/inbound.
func (g *Gateway) handleInbound(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req InboundRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, err)
		return
	}

	in := &dispatch.Inbound{
		OrgID:           authCtx.OrgID,
		SessionID:       chi.URLParam(r, "sessionID"),
		Origin:          store.OriginChat,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	}
	if req.Contact != nil {
		in.Identity = contact.Identity{
			ContactID: req.Contact.ID,
			Email:     req.Contact.Email,
			Phone:     req.Contact.Phone,
			FullName:  req.Contact.FullName,
			Company:   req.Contact.Company,
			Tags:      req.Contact.Tags,
		}
	}

	g.dispatch(w, r, in)
}

// handleEmailInbound handles POST /api/email/inbound, the mail provider
// webhook. Redeliveries of an answered Message-ID are served from the dedupe
// cache without touching the store. A failed cycle releases its claim so the
// redelivery reaches the dispatcher and retries the reply.
func (g *Gateway) handleEmailInbound(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var body email.Inbound
	if err := decodeJSON(r, &body); err != nil {
		g.sendError(w, r, err)
		return
	}
	if body.OrgID == "" {
		body.OrgID = authCtx.OrgID
	}
	if body.OrgID != authCtx.OrgID {
		g.sendJSONError(w, http.StatusForbidden, "organization not permitted")
		return
	}

	msg, err := email.Normalize(body)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	var key string
	if msg.Payload.MessageID != "" {
		key = msg.OrgID + "|" + msg.Payload.MessageID
		if prior, seen := g.dedupe.Claim(key); seen {
			g.logger.Debug("duplicate inbound email", "org_id", msg.OrgID, "message_id", msg.Payload.MessageID)
			if prior == dedupe.Pending {
				g.sendJSON(w, http.StatusAccepted, InboundResponse{SessionID: msg.SessionID, Duplicate: true})
				return
			}
			g.sendJSON(w, http.StatusOK, InboundResponse{MessageID: prior, SessionID: msg.SessionID, Duplicate: true})
			return
		}
	}

	res, err := g.dispatch(w, r, &dispatch.Inbound{
		OrgID:           msg.OrgID,
		SessionID:       msg.SessionID,
		Origin:          store.OriginEmail,
		Content:         msg.Body,
		Identity:        contact.Identity{Email: msg.Address, FullName: msg.Name},
		Email:           msg.Payload,
		ClientMessageID: msg.Payload.MessageID,
	})

	if key == "" {
		return
	}
	if err == nil && res != nil && res.Inbound != nil {
		g.dedupe.Resolve(key, res.Inbound.ID)
	} else {
		g.dedupe.Release(key)
	}
}

// dispatch runs one reply cycle and writes the response. The result is
// returned alongside the cycle error, so a stored inbound message is
// reported even when the automated reply failed.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, in *dispatch.Inbound) (*dispatch.Result, error) {
	res, err := g.dispatcher.HandleInbound(r.Context(), in)
	if res == nil {
		if err == nil {
			err = store.Invalid("message", "not stored")
		}
		g.sendError(w, r, err)
		return nil, err
	}

	resp := InboundResponse{
		SessionID: in.SessionID,
		Action:    string(res.Action),
		Duplicate: res.Duplicate,
		Reply:     messageView(res.Reply),
	}
	if res.Inbound != nil {
		resp.MessageID = res.Inbound.ID
		resp.ContactID = res.Inbound.ContactID
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	if err != nil {
		status = statusFor(err)
		resp.Retryable = retryable(status)
		resp.Error = err.Error()
		if status == http.StatusInternalServerError {
			g.logger.Error("reply cycle failed",
				"org_id", in.OrgID,
				"session_id", in.SessionID,
				"error", err)
			resp.Error = "internal server error"
			// The inbound message is stored; a retry with the same
			// client_message_id resumes the cycle.
			resp.Retryable = true
		}
	}
	g.sendJSON(w, status, resp)
	return res, err
}
