package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/livemap/internal/models"
)

// ErrInvalidCoordinate rejects samples outside WGS84 bounds. The error is
// reported to the originating client only and never fans out to the group.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// LocationStore is the single mutable table of "where is each member right
// now", keyed by group. It is the only cross-component shared state.
type LocationStore interface {
	Update(groupID, memberID string, loc models.Coordinate, capturedAt time.Time) error
	Snapshot(groupID string) []models.LocationSample
	Remove(groupID, memberID string)
}

// MemoryStore keeps one current sample per member per group. Entries are
// ephemeral: created on first report, removed on leave, gone on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[string]map[string]models.LocationSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]map[string]models.LocationSample)}
}

func (m *MemoryStore) Update(groupID, memberID string, loc models.Coordinate, capturedAt time.Time) error {
	if !loc.Valid() {
		return fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidCoordinate, loc.Lat, loc.Lng)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		g = make(map[string]models.LocationSample)
		m.groups[groupID] = g
	}
	g[memberID] = models.LocationSample{MemberID: memberID, Loc: loc, CapturedAt: capturedAt}
	return nil
}

// Snapshot returns a point-in-time copy; callers never observe a
// partially-applied update.
func (m *MemoryStore) Snapshot(groupID string) []models.LocationSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g := m.groups[groupID]
	out := make([]models.LocationSample, 0, len(g))
	for _, s := range g {
		out = append(out, s)
	}
	return out
}

func (m *MemoryStore) Remove(groupID, memberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[groupID]; ok {
		delete(g, memberID)
		if len(g) == 0 {
			delete(m.groups, groupID)
		}
	}
}
