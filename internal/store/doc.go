// Package store provides persistent storage for the support gateway using SQLite.
//
// # Architecture
//
// The package is interface driven:
//
//   - ContactStore: visitor identities, unique per (org, email)
//   - ConversationStore: conversation summaries, messages, audit events and notes
//   - KnowledgeStore: trigger-phrase rules with canned responses
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation with the same semantics for tests.
//
// # Ordering
//
// Message timestamps are assigned by the store, never by callers. Within one
// session every append receives the next sequence number and a timestamp that
// is never earlier than the previous message's, so (CreatedAt, Seq) is a
// strict total order even when the wall clock stalls or steps backwards.
//
// AppendMessage creates the conversation if needed, inserts the message and
// updates the summary fields (LastAt, LastRole, LastMessage, TotalMessages)
// in one transaction.
//
// # Tenancy
//
// Every query is filtered by organization. A session id that exists in
// another organization is reported as ErrNotFound.
//
// # Errors
//
//   - ErrNotFound: entity missing in this organization
//   - ErrValidation: matched by every *ValidationError
//   - ErrTransient: SQLite busy/locked, safe to retry
//   - ErrDuplicate: uniqueness constraint rejected the write
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC strings with nanosecond precision
// so that lexical order equals chronological order.
package store
