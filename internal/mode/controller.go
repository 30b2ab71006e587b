// ABOUTME: Mode controller backed by the conversation store
// ABOUTME: Handles SetMode, current-mode reads, and watch channels for dispatchers

package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/store"
)

// Store is the subset of the conversation store the controller needs.
type Store interface {
	GetConversation(ctx context.Context, orgID, sessionID string) (*store.Conversation, error)
	SetMode(ctx context.Context, orgID, sessionID string, mode store.Mode, actor store.Actor) (bool, error)
}

// Publisher receives mode_changed events for viewers.
type Publisher interface {
	Publish(event *conversation.Event, excludeSubID string)
}

// Controller reads and changes conversation modes.
type Controller struct {
	store  Store
	events Publisher
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]map[int]chan store.Mode
	nextID   int
}

// NewController creates a Controller. events may be nil.
func NewController(s Store, events Publisher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    s,
		events:   events,
		logger:   logger.With("component", "mode"),
		watchers: make(map[string]map[int]chan store.Mode),
	}
}

func watchKey(orgID, sessionID string) string {
	return orgID + "/" + sessionID
}

// Mode returns the current mode of a session. A session that has not been
// created yet is in agent mode.
func (c *Controller) Mode(ctx context.Context, orgID, sessionID string) (store.Mode, error) {
	conv, err := c.store.GetConversation(ctx, orgID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ModeAgent, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading mode: %w", err)
	}
	if conv.Mode == "" {
		return store.ModeAgent, nil
	}
	return conv.Mode, nil
}

// SetMode switches a session's mode. Setting the current mode again is a
// no-op that reports changed=false.
func (c *Controller) SetMode(ctx context.Context, orgID, sessionID string, mode store.Mode, actor store.Actor) (bool, error) {
	if !mode.Valid() {
		return false, store.Invalid("mode", "must be agent or manual")
	}
	changed, err := c.store.SetMode(ctx, orgID, sessionID, mode, actor)
	if err != nil {
		return false, fmt.Errorf("setting mode: %w", err)
	}
	if !changed {
		return false, nil
	}

	c.logger.Info("mode changed",
		"org_id", orgID,
		"session_id", sessionID,
		"mode", mode,
		"actor_id", actor.ID)

	c.notify(orgID, sessionID, mode)
	if c.events != nil {
		ev := &conversation.Event{
			Type:      conversation.EventModeChanged,
			OrgID:     orgID,
			SessionID: sessionID,
			Mode:      mode,
		}
		if conv, err := c.store.GetConversation(ctx, orgID, sessionID); err == nil {
			ev.Conversation = conv
		}
		c.events.Publish(ev, "")
	}
	return true, nil
}

// Watch returns a channel that receives the session's mode whenever it
// changes. The channel holds only the latest value. Call cancel when done.
func (c *Controller) Watch(orgID, sessionID string) (<-chan store.Mode, func()) {
	ch := make(chan store.Mode, 1)
	key := watchKey(orgID, sessionID)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[int]chan store.Mode)
	}
	c.watchers[key][id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers[key], id)
			if len(c.watchers[key]) == 0 {
				delete(c.watchers, key)
			}
		})
	}
	return ch, cancel
}

// notify pushes mode to every watcher of the session without blocking.
func (c *Controller) notify(orgID, sessionID string, mode store.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.watchers[watchKey(orgID, sessionID)] {
		// Drop a stale unread value so the latest mode wins.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- mode:
		default:
		}
	}
}

// WatcherCount reports how many dispatchers are watching a session.
func (c *Controller) WatcherCount(orgID, sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers[watchKey(orgID, sessionID)])
}
