// ABOUTME: Package mode decides whether automation or a human answers a session
// ABOUTME: Persists agent/manual per conversation and notifies in-flight dispatchers

// Package mode implements the per-conversation responder state machine.
//
// A conversation starts in agent mode, where canned responses and the AI
// assistant may reply. Switching to manual pauses automation so only humans
// answer. Changes are persisted through the conversation store, published on
// the event bus, and pushed to any dispatcher currently watching the session
// so it can abandon a reply that is still being generated.
package mode
