package storage

import (
	"context"
	"sync"

	"github.com/example/livemap/internal/models"
)

// EventStore persists emitted carpool suggestions and SOS alerts so they
// survive reconnects and can be listed later. Live delivery never depends on
// a write succeeding.
type EventStore interface {
	SaveSuggestion(ctx context.Context, s models.CarpoolSuggestion) error
	SaveSOS(ctx context.Context, a models.SOSAlert) error
	RecentSuggestions(ctx context.Context, groupID string, limit int) ([]models.CarpoolSuggestion, error)
}

// MemoryEventStore is the in-process implementation used without a database
// and in tests.
type MemoryEventStore struct {
	mu          sync.RWMutex
	suggestions map[string][]models.CarpoolSuggestion
	alerts      []models.SOSAlert
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{suggestions: make(map[string][]models.CarpoolSuggestion)}
}

func (m *MemoryEventStore) SaveSuggestion(ctx context.Context, s models.CarpoolSuggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions[s.GroupID] = append(m.suggestions[s.GroupID], s)
	return nil
}

func (m *MemoryEventStore) SaveSOS(ctx context.Context, a models.SOSAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *MemoryEventStore) RecentSuggestions(ctx context.Context, groupID string, limit int) ([]models.CarpoolSuggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.suggestions[groupID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]models.CarpoolSuggestion, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}
