// Package knowledge evaluates trigger-phrase rules and manages the per-org
// rule cache.
//
// # Matching
//
// Matcher.Match is a pure function of (entries, text): inactive entries are
// discarded, every phrase of an entry is tested with the entry's match mode
// and an entry matches if any phrase does. Modes:
//
//   - contains: case-insensitive substring
//   - exact: case-insensitive equality after trimming both sides
//   - regex: case-insensitive regular expression; a pattern that fails to
//     compile never matches and is logged as a configuration warning
//
// The winner is the matching entry with the highest priority, then the most
// recent UpdatedAt, then the lowest ID.
//
// # Service
//
// Service wraps a store.KnowledgeStore with an expiring LRU of each
// organization's active entries. Concurrent cache misses for one organization
// collapse into a single store read. Upsert and Delete invalidate the
// organization's cached rules; other gateway instances converge when their
// cache entry expires.
package knowledge
