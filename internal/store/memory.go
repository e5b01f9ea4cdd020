package store

import (
	"context"
	"sync"
	"time"

	"github.com/nradhesh/code-sync/internal/models"
)

// MemoryStore keeps sessions in process memory. It is the default
// store for single-instance deployments and the one unit tests use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	order    []string // connection ids in join order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.RoomID == s.RoomID && existing.Username == s.Username &&
			existing.Status != models.StatusOffline {
			return nil, ErrDuplicateUsername
		}
	}
	now := time.Now().UTC()
	stored := *s
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.sessions[stored.ConnectionID] = &stored
	m.order = append(m.order, stored.ConnectionID)
	out := stored
	return &out, nil
}

func (m *MemoryStore) GetByConnection(_ context.Context, connectionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) ListRoom(_ context.Context, roomID string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok && s.RoomID == roomID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.order))
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, connectionID string, upd SessionUpdate) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return nil, nil
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.Typing != nil {
		s.Typing = *upd.Typing
	}
	if upd.CursorPosition != nil {
		s.CursorPosition = *upd.CursorPosition
	}
	if upd.CurrentFile != nil {
		s.CurrentFile = upd.CurrentFile
	}
	s.UpdatedAt = time.Now().UTC()
	out := *s
	return &out, nil
}

func (m *MemoryStore) Delete(_ context.Context, connectionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connectionID]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, connectionID)
	for i, id := range m.order {
		if id == connectionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	out := *s
	return &out, nil
}
