// Package auth provides organization-scoped authentication for the
// support-gateway HTTP API.
//
// # Tokens
//
// Callers present an HS256 JWT signed with the configured jwt_secret. Every
// token carries:
//
//   - org: the organization every request is scoped to
//   - sub: the caller's identity (an agent id, or a widget install id)
//   - name: display name used for presence and audit events
//   - role: "widget", "agent" or "admin"
//
// The organization is never taken from a request body or path; handlers read
// it from the AuthContext the middleware stores in the request context.
//
// # Roles
//
// Widget tokens are embedded in the visitor chat widget and may only post
// inbound messages, report presence and read their own session. Agent tokens
// can do everything a human support agent does. Admin tokens may additionally
// edit the knowledge base.
//
//	token, err := verifier.Generate(auth.Claims{OrgID: "acme", Subject: "agent-1", Role: auth.RoleAgent}, 24*time.Hour)
//	claims, err := verifier.Verify(token)
package auth
