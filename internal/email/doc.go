// ABOUTME: Package email adapts the inbound email channel to conversations
// ABOUTME: Normalizes provider webhooks and renders assistant replies as email

// Package email turns provider webhook payloads into dispatcher input and
// turns reply text back into an email payload.
//
// Messages from the same sender on the same subject thread land in one
// conversation: the session id is derived from the lower-cased address and
// the subject with reply and forward prefixes removed.
package email
