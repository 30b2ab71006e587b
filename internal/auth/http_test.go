// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, query-string tokens and role gates

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Claims{OrgID: "acme", Subject: "agent-1", Name: "Grace"}, time.Hour)

	var got *AuthContext
	handler := HTTPAuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(t, handler, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil {
		t.Fatal("expected AuthContext in context")
	}
	if got.OrgID != "acme" || got.Subject != "agent-1" || got.Name != "Grace" || got.Role != RoleAgent {
		t.Errorf("unexpected auth context %+v", got)
	}
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Claims{OrgID: "acme", Subject: "agent-1"}, time.Hour)

	handler := HTTPAuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(t, handler, httptest.NewRequest(http.MethodGet, "/api/stream?access_token="+token, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate(Claims{OrgID: "acme", Subject: "agent-1"}, -time.Minute)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing header", header: "", want: "missing authorization header"},
		{name: "basic auth", header: "Basic abc", want: "invalid authorization header format"},
		{name: "empty bearer", header: "Bearer ", want: "empty token"},
		{name: "garbage", header: "Bearer nope", want: "invalid token"},
		{name: "expired", header: "Bearer " + expired, want: "token expired"},
	}

	handler := HTTPAuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(t, handler, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body %q does not mention %q", rec.Body.String(), tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	gate := RequireRole(RoleAdmin)(ok)

	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{name: "unauthenticated", auth: nil, want: http.StatusUnauthorized},
		{name: "widget", auth: &AuthContext{Role: RoleWidget}, want: http.StatusForbidden},
		{name: "agent", auth: &AuthContext{Role: RoleAgent}, want: http.StatusForbidden},
		{name: "admin", auth: &AuthContext{Role: RoleAdmin}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/knowledge", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := serve(t, gate, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
