package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/observability"
)

// Envelope is the single frame type pushed to subscribers.
type Envelope struct {
	Type       string                    `json:"type"` // group_snapshot | carpool_suggestion | sos_alert | error
	Snapshot   *models.GroupSnapshot     `json:"snapshot,omitempty"`
	Suggestion *models.CarpoolSuggestion `json:"suggestion,omitempty"`
	SOS        *models.SOSAlert          `json:"sos,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// Registry fans envelopes out to connected subscribers. The websocket
// implementation below is the production one; tests use an in-memory fake.
type Registry interface {
	Subscribers(groupID string) []string
	Send(subscriberID string, ev Envelope) error
}

// WSSession wraps one subscriber connection. gorilla/websocket allows only
// one concurrent writer, hence the mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds subscriber sessions and their group memberships.
type WSRegistry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
	groups   map[string]map[string]bool // groupID -> subscriberIDs
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{
		logger:   logger,
		sessions: make(map[string]*WSSession),
		groups:   make(map[string]map[string]bool),
	}
}

func (r *WSRegistry) Add(subscriberID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[subscriberID] = &WSSession{conn: conn}
	observability.SubscribersOnline.Inc()
}

func (r *WSRegistry) Join(groupID, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		g = make(map[string]bool)
		r.groups[groupID] = g
	}
	g[subscriberID] = true
}

func (r *WSRegistry) Remove(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[subscriberID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, subscriberID)
		observability.SubscribersOnline.Dec()
	}
	for gid, g := range r.groups {
		delete(g, subscriberID)
		if len(g) == 0 {
			delete(r.groups, gid)
		}
	}
}

func (r *WSRegistry) Subscribers(groupID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[groupID]
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	return out
}

func (r *WSRegistry) Send(subscriberID string, ev Envelope) error {
	r.mu.RLock()
	s, ok := r.sessions[subscriberID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.logger.Warn("ws send failed", "subscriber_id", subscriberID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
