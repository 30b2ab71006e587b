// ABOUTME: In-memory fan-out event broadcaster for multi-viewer awareness
// ABOUTME: Delivers conversation events to subscribers of an organization or of a single session

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventBroadcaster provides in-memory pub/sub for conversation events.
// A subscriber registers for a whole organization (every session) or for one
// session, and receives events as they are published. Each subscriber has its
// own buffer, so a slow viewer never blocks the publisher or other viewers.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// topic is the subscription key: "org" or "org/session".
func topic(orgID, sessionID string) string {
	if sessionID == "" {
		return orgID
	}
	return orgID + "/" + sessionID
}

// Subscribe registers for events of orgID, narrowed to one session when
// sessionID is non-empty. Returns a channel that receives events and a
// subscription ID. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, orgID, sessionID string) (<-chan *Event, string) {
	key := topic(orgID, sessionID)
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan *Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", key, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish delivers event to the organization's subscribers and to the
// subscribers of its session. If excludeSubID is non-empty, that subscriber
// is skipped. Non-blocking: events are dropped for subscribers whose
// channels are full.
func (b *EventBroadcaster) Publish(event *Event, excludeSubID string) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	keys := []string{topic(event.OrgID, "")}
	if event.SessionID != "" {
		keys = append(keys, topic(event.OrgID, event.SessionID))
	}

	// Sends are non-blocking; the read lock keeps unsubscribe from closing a
	// channel mid-send.
	b.mu.RLock()
	var targets []chan *Event
	for _, key := range keys {
		for id, ch := range b.subscribers[key] {
			if excludeSubID != "" && id == excludeSubID {
				continue
			}
			targets = append(targets, ch)
		}
	}

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"org_id", event.OrgID,
				"session_id", event.SessionID,
				"event_type", event.Type)
		}
	}
	b.mu.RUnlock()
}

// unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "topic", key, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for a topic.
func (b *EventBroadcaster) SubscriberCount(orgID, sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic(orgID, sessionID)])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
