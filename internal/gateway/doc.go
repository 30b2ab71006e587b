// Package gateway orchestrates the support-gateway server components.
//
// # Overview
//
// The gateway package wires the conversation engine together and serves it
// over HTTP. It owns the store, the event broadcaster, the presence tracker,
// the mode controller, the knowledge service, the contact resolver, the
// assistant provider and the response dispatcher.
//
// # HTTP API
//
// All /api routes require a bearer JWT whose org claim scopes every read and
// write. Widget tokens (role widget, sub = session id) may only reach their
// own session's inbound, messages, presence and stream routes.
//
//   - POST /api/sessions/{id}/inbound - visitor message, runs a reply cycle
//   - GET /api/sessions/{id}/messages - message history
//   - POST /api/sessions/{id}/messages - human agent reply
//   - PUT /api/sessions/{id}/mode - agent or manual
//   - PUT /api/sessions/{id}/status - open, snoozed or closed
//   - PUT|DELETE /api/sessions/{id}/assignee - assign a human agent
//   - POST|GET /api/sessions/{id}/notes - internal notes
//   - GET /api/sessions/{id}/events - audit trail
//   - PUT|GET /api/sessions/{id}/presence - typing indicators
//   - GET /api/conversations - inbox
//   - GET|POST /api/knowledge, DELETE /api/knowledge/{entryID} - canned responses
//   - POST /api/email/inbound - mail provider webhook
//   - GET /api/stream - Server-Sent Events
//   - GET /health, /health/ready - liveness and store ping
//
// # Errors
//
// Errors are JSON bodies of the form {"error": "..."}:
//
//	validation      400
//	not found       404
//	rate limited    429
//	assistant fail  502
//	store busy      503
//	assistant slow  504
//
// Inbound endpoints still report the stored message_id when the automated
// reply failed, with "retryable": true.
//
// # SSE Streaming
//
//	event: message_appended
//	data: {"type":"message_appended","session_id":"s1","message":{...}}
//
// Event types: ready, message_appended, conversation_updated, mode_changed,
// presence_changed, note_added.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
