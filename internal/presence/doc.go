// Package presence tracks per-session, per-actor typing state.
//
// Writes are throttled by a debounce rule instead of a rate limiter: a
// non-forced write is dropped when the status equals the last accepted status
// for the same (org, session, actor) and less than the debounce interval has
// passed since that write. Forced writes always apply and restart the
// interval.
//
// Records are never expired by a background job. Readers compare
// UpdatedAt + IdleTimeout against the clock, so an actor who vanished while
// typing reads as idle once the timeout passes.
//
// The record storage is a Backend: an in-process map (MemoryBackend) or a
// Redis hash per session (RedisBackend) when several gateway instances must
// share one view. Debounce state always lives in the Tracker.
package presence
