package carpool

import (
	"sync"
	"time"

	"github.com/example/livemap/internal/geo"
	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/observability"
)

// Matcher detects pairs of members whose paths cross closely enough to share
// a ride. A pair that has produced a suggestion is never evaluated again
// (per-process, or until Reset); pairs that evaluated negative may be retried
// on later cycles.
type Matcher struct {
	GroupID        string
	ThresholdKm    float64
	MinRoutePoints int

	mu        sync.Mutex
	suggested map[string]bool
	now       func() time.Time
}

func NewMatcher(groupID string, thresholdKm float64, minRoutePoints int) *Matcher {
	if thresholdKm <= 0 {
		thresholdKm = 2
	}
	if minRoutePoints < 2 {
		minRoutePoints = 2
	}
	return &Matcher{
		GroupID:        groupID,
		ThresholdKm:    thresholdKm,
		MinRoutePoints: minRoutePoints,
		suggested:      make(map[string]bool),
		now:            time.Now,
	}
}

// Evaluate runs one matching cycle over the group's current locations and
// routes and returns the newly emitted suggestions.
func (m *Matcher) Evaluate(locations []models.LocationSample, routes map[string]models.Route) []models.CarpoolSuggestion {
	locByMember := make(map[string]models.Coordinate, len(locations))
	for _, s := range locations {
		locByMember[s.MemberID] = s.Loc
	}

	// Only members with a usable route and a known current location take
	// part. A single-point route (origin == destination) is excluded, not
	// treated as a distance-0 match.
	ids := make([]string, 0, len(routes))
	for id, r := range routes {
		if len(r.Coordinates) < m.MinRoutePoints {
			continue
		}
		if _, ok := locByMember[id]; !ok {
			continue
		}
		ids = append(ids, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.CarpoolSuggestion
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			key := models.PairKey(a, b)
			if m.suggested[key] {
				continue
			}
			sugg, ok := m.evaluatePair(a, b, locByMember, routes)
			if !ok {
				continue
			}
			m.suggested[key] = true
			sugg.PairKey = key
			sugg.GroupID = m.GroupID
			sugg.CreatedAt = m.now()
			observability.SuggestionsEmittedTotal.Inc()
			out = append(out, sugg)
		}
	}
	return out
}

func (m *Matcher) evaluatePair(a, b string, locs map[string]models.Coordinate, routes map[string]models.Route) (models.CarpoolSuggestion, bool) {
	distAB, meetAB, okAB := geo.DistanceToRouteKm(locs[a], routes[b].Coordinates)
	distBA, meetBA, okBA := geo.DistanceToRouteKm(locs[b], routes[a].Coordinates)

	hitAB := okAB && distAB <= m.ThresholdKm
	hitBA := okBA && distBA <= m.ThresholdKm
	if !hitAB && !hitBA {
		return models.CarpoolSuggestion{}, false
	}

	// When both directions hit, keep the closer meetup point.
	dist, meet := distAB, meetAB
	if !hitAB || (hitBA && distBA < distAB) {
		dist, meet = distBA, meetBA
	}
	return models.CarpoolSuggestion{
		MemberAID:  a,
		MemberBID:  b,
		Meetup:     meet,
		DistanceKm: dist,
	}, true
}

// Reset clears the dedup set. Called when the group destination changes:
// previously suggested meetup points are no longer valid.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggested = make(map[string]bool)
}
