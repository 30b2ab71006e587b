// ABOUTME: Presence tracker applying debounce on writes and idle-timeout freshness on reads
// ABOUTME: Single owner of typing state for every session; storage is a pluggable Backend

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDebounce is the minimum spacing between identical non-forced writes.
	DefaultDebounce = 1500 * time.Millisecond
	// DefaultIdleTimeout is how long a typing record stays live without a write.
	DefaultIdleTimeout = 4 * time.Second
)

// Status is an actor's live state in a session.
type Status string

const (
	StatusTyping Status = "typing"
	StatusIdle   Status = "idle"
)

// Record is the stored presence of one actor in one session.
type Record struct {
	OrgID     string    `json:"org_id"`
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is a requested presence write.
type Update struct {
	OrgID     string
	SessionID string
	ActorID   string
	ActorName string
	Status    Status
	// Force bypasses the debounce and restarts its interval.
	Force bool
}

// Backend stores presence records.
type Backend interface {
	Put(ctx context.Context, rec Record) error
	List(ctx context.Context, orgID, sessionID string) ([]Record, error)
	Clear(ctx context.Context, orgID, sessionID string) error
}

// Options configures a Tracker. Zero values select the defaults.
type Options struct {
	Debounce    time.Duration
	IdleTimeout time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// OnChange is called after every accepted write.
	OnChange func(Record)
}

type actorKey struct {
	org, session, actor string
}

type accepted struct {
	status Status
	at     time.Time
}

// Tracker owns presence state for all sessions.
type Tracker struct {
	backend     Backend
	debounce    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	onChange    func(Record)
	logger      *slog.Logger

	mu   sync.Mutex
	last map[actorKey]accepted
}

// NewTracker creates a Tracker. Pass nil logger for default.
func NewTracker(backend Backend, opts Options, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		backend:     backend,
		debounce:    opts.Debounce,
		idleTimeout: opts.IdleTimeout,
		now:         opts.Now,
		onChange:    opts.OnChange,
		logger:      logger.With("component", "presence"),
		last:        make(map[actorKey]accepted),
	}
}

// SetPresence applies u unless the debounce rule drops it. It reports
// whether the write was accepted.
func (t *Tracker) SetPresence(ctx context.Context, u Update) (bool, error) {
	if strings.TrimSpace(u.SessionID) == "" || strings.TrimSpace(u.ActorID) == "" {
		return false, fmt.Errorf("presence update requires session and actor")
	}
	if u.Status != StatusTyping && u.Status != StatusIdle {
		return false, fmt.Errorf("unknown presence status %q", u.Status)
	}

	k := actorKey{u.OrgID, u.SessionID, u.ActorID}
	now := t.now()

	t.mu.Lock()
	prev, seen := t.last[k]
	if !u.Force && seen && prev.status == u.Status && now.Sub(prev.at) < t.debounce {
		t.mu.Unlock()
		return false, nil
	}
	t.last[k] = accepted{status: u.Status, at: now}
	t.mu.Unlock()

	rec := Record{
		OrgID:     u.OrgID,
		SessionID: u.SessionID,
		ActorID:   u.ActorID,
		ActorName: u.ActorName,
		Status:    u.Status,
		UpdatedAt: now,
	}
	if err := t.backend.Put(ctx, rec); err != nil {
		// Let the next attempt through rather than debouncing against a
		// write that never landed.
		t.mu.Lock()
		if cur, ok := t.last[k]; ok && cur.at.Equal(now) {
			if seen {
				t.last[k] = prev
			} else {
				delete(t.last, k)
			}
		}
		t.mu.Unlock()
		return false, fmt.Errorf("storing presence: %w", err)
	}

	if t.onChange != nil {
		t.onChange(rec)
	}
	return true, nil
}

// List returns every record of a session with its effective status: a
// typing record older than the idle timeout is reported as idle.
func (t *Tracker) List(ctx context.Context, orgID, sessionID string) ([]Record, error) {
	recs, err := t.backend.List(ctx, orgID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing presence: %w", err)
	}

	now := t.now()
	for i := range recs {
		if recs[i].Status == StatusTyping && !t.fresh(recs[i], now) {
			recs[i].Status = StatusIdle
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ActorID < recs[j].ActorID })
	return recs, nil
}

// Typing returns the actors currently typing in a session.
func (t *Tracker) Typing(ctx context.Context, orgID, sessionID string) ([]Record, error) {
	recs, err := t.backend.List(ctx, orgID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing presence: %w", err)
	}

	now := t.now()
	typing := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Status == StatusTyping && t.fresh(r, now) {
			typing = append(typing, r)
		}
	}
	sort.Slice(typing, func(i, j int) bool { return typing[i].ActorID < typing[j].ActorID })
	return typing, nil
}

// Clear drops all presence state of a session.
func (t *Tracker) Clear(ctx context.Context, orgID, sessionID string) error {
	t.mu.Lock()
	for k := range t.last {
		if k.org == orgID && k.session == sessionID {
			delete(t.last, k)
		}
	}
	t.mu.Unlock()

	if err := t.backend.Clear(ctx, orgID, sessionID); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	t.logger.Debug("presence cleared", "org_id", orgID, "session_id", sessionID)
	return nil
}

func (t *Tracker) fresh(r Record, now time.Time) bool {
	return now.Sub(r.UpdatedAt) < t.idleTimeout
}
