// Package conversation is the write path for support conversations.
//
// # Service
//
// Service wraps a store.ConversationStore:
//
//	svc := conversation.New(store, presenceTracker, broadcaster, logger)
//
// Key operations:
//
//   - AppendMessage(ctx, params): store a message, creating the conversation on first use
//   - ListConversations(ctx, org, limit): most recently active first
//   - ListMessages(ctx, org, session): append order
//   - SetStatus(ctx, org, session, status, actor): any transition; closing clears presence
//   - Assign / Unassign / AddNote / ListNotes / ListEvents
//
// Record first, then publish: nothing reaches a viewer before it is durable.
//
// # Event Broadcasting
//
// EventBroadcaster fans events out to viewers. A dashboard inbox subscribes
// to an organization and sees every session; an open conversation view
// subscribes to one session:
//
//	events, subID := broadcaster.Subscribe(ctx, "acme", "s1")
//
// Each subscriber has a 64-event buffer. When it is full, further events for
// that subscriber are dropped rather than blocking the publisher; viewers
// that fall behind re-read state from the store. Cancelling ctx removes the
// subscription and closes the channel.
//
// Event types:
//
//   - message_appended: a message was stored
//   - conversation_updated: summary, status or assignment changed
//   - mode_changed: automation was paused or resumed
//   - presence_changed: an actor started or stopped typing
//   - note_added: an internal note was attached
package conversation
