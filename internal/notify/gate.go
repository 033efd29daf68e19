package notify

import "sync"

// Kind classifies a deliverable event for gating purposes.
type Kind int

const (
	KindCarpool Kind = iota
	KindGroupMessage
	KindDirectMessage
	KindSOS
)

// Context is the ephemeral per-subscriber view state: which group map or
// direct chat the subscriber currently has open. Never persisted.
type Context struct {
	ActiveGroupID      string
	ActiveDirectChatID string
}

// Gate suppresses events a subscriber can already see on screen. A user
// looking at a group's live map is not interrupted by a notification about
// that same group; SOS alerts are never gated.
type Gate struct {
	mu       sync.RWMutex
	contexts map[string]Context
}

func NewGate() *Gate {
	return &Gate{contexts: make(map[string]Context)}
}

func (g *Gate) SetActiveGroup(subscriberID, groupID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.contexts[subscriberID]
	c.ActiveGroupID = groupID
	g.contexts[subscriberID] = c
}

func (g *Gate) SetActiveDirectChat(subscriberID, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.contexts[subscriberID]
	c.ActiveDirectChatID = chatID
	g.contexts[subscriberID] = c
}

// Clear drops a subscriber's context on disconnect.
func (g *Gate) Clear(subscriberID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.contexts, subscriberID)
}

// ShouldDeliver decides whether an event of the given kind, originating from
// originGroupID/originChatID, reaches the subscriber.
func (g *Gate) ShouldDeliver(subscriberID string, kind Kind, originGroupID, originChatID string) bool {
	if kind == KindSOS {
		return true
	}
	g.mu.RLock()
	c, ok := g.contexts[subscriberID]
	g.mu.RUnlock()
	if !ok {
		return true
	}
	switch kind {
	case KindCarpool, KindGroupMessage:
		return c.ActiveGroupID == "" || c.ActiveGroupID != originGroupID
	case KindDirectMessage:
		return c.ActiveDirectChatID == "" || c.ActiveDirectChatID != originChatID
	}
	return true
}
