// ABOUTME: chi route table, request middleware and error-to-status mapping
// ABOUTME: Scopes every API route to the caller's organization from the JWT

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/support-gateway/internal/auth"
	"github.com/2389/support-gateway/internal/dispatch"
	"github.com/2389/support-gateway/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler returns the HTTP handler serving health checks and the API.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.logRequests)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	staff := auth.RequireRole(auth.RoleAgent, auth.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.verifier, g.logger))

		r.Get("/stream", g.handleStream)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Use(g.sessionAccess)

			// Widget-reachable routes
			r.Post("/inbound", g.handleInbound)
			r.Get("/messages", g.handleListMessages)
			r.Put("/presence", g.handleSetPresence)
			r.Get("/presence", g.handleGetPresence)

			r.Group(func(r chi.Router) {
				r.Use(staff)
				r.Get("/", g.handleGetConversation)
				r.Post("/messages", g.handleAgentMessage)
				r.Put("/mode", g.handleSetMode)
				r.Put("/status", g.handleSetStatus)
				r.Put("/assignee", g.handleAssign)
				r.Delete("/assignee", g.handleUnassign)
				r.Post("/notes", g.handleAddNote)
				r.Get("/notes", g.handleListNotes)
				r.Get("/events", g.handleListEvents)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(staff)
			r.Get("/conversations", g.handleListConversations)
			r.Get("/knowledge", g.handleListKnowledge)
			r.Post("/email/inbound", g.handleEmailInbound)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/knowledge", g.handleUpsertKnowledge)
				r.Delete("/knowledge/{entryID}", g.handleDeleteKnowledge)
			})
		})
	})

	return r
}

// logRequests logs every request at debug level with its status and latency.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// sessionAccess confines widget tokens to the session named in their
// subject claim.
func (g *Gateway) sessionAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := auth.MustFromContext(r.Context())
		if authCtx.Role == auth.RoleWidget && authCtx.Subject != chi.URLParam(r, "sessionID") {
			g.sendJSONError(w, http.StatusForbidden, "session not permitted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, dispatch.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// retryable reports whether the client may usefully repeat the request.
func retryable(status int) bool {
	switch status {
	case http.StatusGatewayTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true
	}
	return false
}

// sendError maps err to a status and writes it as a JSON error. Internal
// errors are logged and not echoed to the client.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	body := map[string]any{"error": message}
	if retryable(status) {
		body["retryable"] = true
	}
	g.sendJSON(w, status, body)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return store.Invalid("body", "invalid JSON")
	}
	return nil
}

// queryLimit parses the limit query parameter; zero means the store default.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, store.Invalid("limit", fmt.Sprintf("must be a non-negative integer, got %q", raw))
	}
	return n, nil
}
