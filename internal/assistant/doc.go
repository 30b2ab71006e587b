// ABOUTME: Package assistant generates AI replies for support conversations
// ABOUTME: Wraps Gemini and langchaingo providers behind one Generator interface

// Package assistant is the boundary to external language models.
//
// The dispatcher only sees the Generator interface. Providers are built from
// configuration through a Registry value that is constructed at startup and
// passed by reference; there is no package-level provider table.
//
// Every provider receives the same inputs: a system prompt assembled from the
// organization's base instructions and its knowledge entries, the most recent
// conversation turns, and the visitor's new message.
package assistant
