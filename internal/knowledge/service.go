// ABOUTME: Knowledge service with a per-org expiring rule cache in front of the store
// ABOUTME: Upsert and Delete invalidate the cache; concurrent misses share one store read

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/2389/support-gateway/internal/store"
)

const (
	// DefaultCacheTTL bounds how stale another instance's rules may be.
	DefaultCacheTTL = 30 * time.Second
	// DefaultCacheSize is the number of organizations kept in the cache.
	DefaultCacheSize = 1024
)

// Options configures the rule cache.
type Options struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Service manages knowledge entries and answers match queries.
type Service struct {
	store   store.KnowledgeStore
	matcher *Matcher
	cache   *expirable.LRU[string, []*store.KnowledgeEntry]
	group   singleflight.Group
	logger  *slog.Logger

	mu  sync.Mutex
	gen map[string]uint64 // orgID -> invalidation generation
}

// NewService creates a Service. Pass nil logger for default.
func NewService(s store.KnowledgeStore, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	return &Service{
		store:   s,
		matcher: NewMatcher(logger),
		cache:   expirable.NewLRU[string, []*store.KnowledgeEntry](opts.CacheSize, nil, opts.CacheTTL),
		logger:  logger.With("component", "knowledge"),
		gen:     make(map[string]uint64),
	}
}

// Upsert validates and saves an entry. Regex phrases that fail to compile
// are saved but logged; they will never match.
func (s *Service) Upsert(ctx context.Context, e *store.KnowledgeEntry) error {
	if e.MatchMode == store.MatchRegex {
		for _, p := range e.Phrases {
			if err := ValidatePattern(p); err != nil {
				s.logger.Warn("saving knowledge entry with malformed pattern",
					"org_id", e.OrgID,
					"entry_id", e.ID,
					"pattern", p,
					"error", err)
			}
		}
	}

	if err := s.store.UpsertKnowledgeEntry(ctx, e); err != nil {
		return fmt.Errorf("saving knowledge entry: %w", err)
	}
	s.invalidate(e.OrgID)

	s.logger.Info("knowledge entry saved",
		"org_id", e.OrgID,
		"entry_id", e.ID,
		"match_mode", e.MatchMode,
		"phrases", len(e.Phrases))
	return nil
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if err := s.store.DeleteKnowledgeEntry(ctx, orgID, id); err != nil {
		return fmt.Errorf("deleting knowledge entry: %w", err)
	}
	s.invalidate(orgID)

	s.logger.Info("knowledge entry deleted", "org_id", orgID, "entry_id", id)
	return nil
}

// List returns every entry of the organization, active or not, uncached.
func (s *Service) List(ctx context.Context, orgID string) ([]*store.KnowledgeEntry, error) {
	return s.store.ListKnowledgeEntries(ctx, orgID, false)
}

// ActiveEntries returns the organization's active entries from cache,
// loading them on a miss. Callers must not modify the returned entries.
func (s *Service) ActiveEntries(ctx context.Context, orgID string) ([]*store.KnowledgeEntry, error) {
	if entries, ok := s.cache.Get(orgID); ok {
		return entries, nil
	}

	v, err, _ := s.group.Do(orgID, func() (any, error) {
		gen := s.generation(orgID)
		entries, err := s.store.ListKnowledgeEntries(ctx, orgID, true)
		if err != nil {
			return nil, err
		}
		// Skip caching if an upsert or delete landed during the read.
		if s.generation(orgID) == gen {
			s.cache.Add(orgID, entries)
		}
		return entries, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading knowledge entries: %w", err)
	}
	return v.([]*store.KnowledgeEntry), nil
}

// Match returns the winning active entry for text, or nil.
func (s *Service) Match(ctx context.Context, orgID, text string) (*store.KnowledgeEntry, error) {
	entries, err := s.ActiveEntries(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.matcher.Match(entries, text), nil
}

func (s *Service) invalidate(orgID string) {
	s.mu.Lock()
	s.gen[orgID]++
	s.mu.Unlock()

	s.group.Forget(orgID)
	s.cache.Remove(orgID)
}

func (s *Service) generation(orgID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[orgID]
}
