// ABOUTME: Package dispatch runs the reply cycle for inbound visitor messages
// ABOUTME: Orchestrates contacts, storage, mode checks, canned matches and AI replies

// Package dispatch decides what happens after a visitor writes in.
//
// Every inbound message is stored first. If the conversation is in agent
// mode the dispatcher tries the organization's canned responses, and only
// when none match does it ask the AI assistant. The mode is read again right
// before any automated reply is stored, and an AI call in flight is
// cancelled when a human switches the session to manual. A reply that loses
// that race is dropped rather than sent.
//
// There is no session lock by default. A human can seize a conversation in
// the narrow window between the final mode check and the reply append; set
// Options.SerializeSessions to trade latency for a per-session advisory lock
// around the whole cycle on a single instance.
package dispatch
