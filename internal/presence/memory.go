// ABOUTME: In-process presence backend
// ABOUTME: Default storage when a single gateway instance serves all viewers

package presence

import (
	"context"
	"sync"
)

// MemoryBackend keeps records in a map.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Record // "org:session" -> actorID -> record
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]map[string]Record)}
}

func sessionKey(orgID, sessionID string) string {
	return orgID + ":" + sessionID
}

// Put stores rec, replacing the actor's previous record.
func (m *MemoryBackend) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sessionKey(rec.OrgID, rec.SessionID)
	if _, ok := m.sessions[k]; !ok {
		m.sessions[k] = make(map[string]Record)
	}
	m.sessions[k][rec.ActorID] = rec
	return nil
}

// List returns a session's records.
func (m *MemoryBackend) List(ctx context.Context, orgID, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actors := m.sessions[sessionKey(orgID, sessionID)]
	recs := make([]Record, 0, len(actors))
	for _, r := range actors {
		recs = append(recs, r)
	}
	return recs, nil
}

// Clear removes a session's records.
func (m *MemoryBackend) Clear(ctx context.Context, orgID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionKey(orgID, sessionID))
	return nil
}
