package carpool

import (
	"testing"
	"time"

	"github.com/example/livemap/internal/models"
)

func sample(id string, lat, lng float64) models.LocationSample {
	return models.LocationSample{MemberID: id, Loc: models.Coordinate{Lat: lat, Lng: lng}, CapturedAt: time.Now()}
}

func straightRoute(owner string, from, to models.Coordinate) models.Route {
	return models.Route{OwnerID: owner, Coordinates: []models.Coordinate{from, to}, IsFallback: true}
}

func TestSuggestsPairNearRoute(t *testing.T) {
	// A drives from Pune center towards the destination; B sits within 2km of
	// that straight line.
	dest := models.Coordinate{Lat: 18.60, Lng: 73.90}
	aLoc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	m := NewMatcher("g1", 2, 2)

	locs := []models.LocationSample{
		sample("A", aLoc.Lat, aLoc.Lng),
		sample("B", 18.55, 73.87),
	}
	routes := map[string]models.Route{
		"A": straightRoute("A", aLoc, dest),
		"B": straightRoute("B", models.Coordinate{Lat: 18.55, Lng: 73.87}, dest),
	}

	got := m.Evaluate(locs, routes)
	if len(got) != 1 {
		t.Fatalf("expected exactly one suggestion, got %d", len(got))
	}
	s := got[0]
	if s.PairKey != models.PairKey("A", "B") {
		t.Fatalf("unexpected pair key %q", s.PairKey)
	}
	if s.DistanceKm > 2 {
		t.Fatalf("meetup distance above threshold: %f", s.DistanceKm)
	}
	if !s.Meetup.Valid() {
		t.Fatalf("invalid meetup point %+v", s.Meetup)
	}
}

func TestNeverEmitsSamePairTwice(t *testing.T) {
	dest := models.Coordinate{Lat: 18.60, Lng: 73.90}
	aLoc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	bLoc := models.Coordinate{Lat: 18.55, Lng: 73.87}
	m := NewMatcher("g1", 2, 2)

	locs := []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng), sample("B", bLoc.Lat, bLoc.Lng)}
	routes := map[string]models.Route{
		"A": straightRoute("A", aLoc, dest),
		"B": straightRoute("B", bLoc, dest),
	}

	total := 0
	for cycle := 0; cycle < 25; cycle++ {
		total += len(m.Evaluate(locs, routes))
	}
	if total != 1 {
		t.Fatalf("pair emitted %d times across cycles, want 1", total)
	}
}

func TestNegativePairRetriedOnLaterCycle(t *testing.T) {
	dest := models.Coordinate{Lat: 18.60, Lng: 73.90}
	aLoc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	farB := models.Coordinate{Lat: 19.50, Lng: 75.00}
	m := NewMatcher("g1", 2, 2)

	routes := map[string]models.Route{
		"A": straightRoute("A", aLoc, dest),
		"B": straightRoute("B", farB, dest),
	}
	locs := []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng), sample("B", farB.Lat, farB.Lng)}
	if got := m.Evaluate(locs, routes); len(got) != 0 {
		t.Fatalf("far-apart members must not match, got %d", len(got))
	}

	// B moved next to A's route: the pair is eligible again.
	nearB := models.Coordinate{Lat: 18.55, Lng: 73.87}
	locs = []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng), sample("B", nearB.Lat, nearB.Lng)}
	routes["B"] = straightRoute("B", nearB, dest)
	if got := m.Evaluate(locs, routes); len(got) != 1 {
		t.Fatalf("expected suggestion after B moved close, got %d", len(got))
	}
}

func TestShortRouteExcluded(t *testing.T) {
	m := NewMatcher("g1", 2, 2)
	loc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	locs := []models.LocationSample{sample("A", loc.Lat, loc.Lng), sample("B", loc.Lat, loc.Lng)}
	routes := map[string]models.Route{
		// origin == destination collapses to one point; must not count as a
		// distance-0 match.
		"A": {OwnerID: "A", Coordinates: []models.Coordinate{loc}},
		"B": {OwnerID: "B", Coordinates: []models.Coordinate{loc}},
	}
	if got := m.Evaluate(locs, routes); len(got) != 0 {
		t.Fatalf("single-point routes must be excluded, got %d", len(got))
	}
}

func TestMemberWithoutLocationExcluded(t *testing.T) {
	dest := models.Coordinate{Lat: 18.60, Lng: 73.90}
	aLoc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	bLoc := models.Coordinate{Lat: 18.55, Lng: 73.87}
	m := NewMatcher("g1", 2, 2)

	routes := map[string]models.Route{
		"A": straightRoute("A", aLoc, dest),
		"B": straightRoute("B", bLoc, dest),
	}
	// B has a route but never reported a location.
	locs := []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng)}
	if got := m.Evaluate(locs, routes); len(got) != 0 {
		t.Fatalf("member without current location must be excluded, got %d", len(got))
	}
}

func TestPrefersSmallerDistanceWhenBothDirectionsHit(t *testing.T) {
	dest := models.Coordinate{Lat: 0, Lng: 1}
	aLoc := models.Coordinate{Lat: 0.010, Lng: 0.5} // ~1.1km off B's route
	bLoc := models.Coordinate{Lat: 0.002, Lng: 0.5} // ~0.9km off A's route
	m := NewMatcher("g1", 2, 2)

	routes := map[string]models.Route{
		"A": straightRoute("A", models.Coordinate{Lat: 0.010, Lng: 0}, dest),
		"B": straightRoute("B", models.Coordinate{Lat: 0, Lng: 0}, dest),
	}
	locs := []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng), sample("B", bLoc.Lat, bLoc.Lng)}
	got := m.Evaluate(locs, routes)
	if len(got) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(got))
	}
	// A is ~1.1km from B's route; B is ~0.9km from A's route. The emitted
	// meetup must come from the closer of the two tests.
	if got[0].DistanceKm > 1.0 {
		t.Fatalf("expected the smaller of the two distances, got %f", got[0].DistanceKm)
	}
}

func TestResetAllowsReSuggestion(t *testing.T) {
	dest := models.Coordinate{Lat: 18.60, Lng: 73.90}
	aLoc := models.Coordinate{Lat: 18.52, Lng: 73.85}
	bLoc := models.Coordinate{Lat: 18.55, Lng: 73.87}
	m := NewMatcher("g1", 2, 2)

	locs := []models.LocationSample{sample("A", aLoc.Lat, aLoc.Lng), sample("B", bLoc.Lat, bLoc.Lng)}
	routes := map[string]models.Route{
		"A": straightRoute("A", aLoc, dest),
		"B": straightRoute("B", bLoc, dest),
	}
	if got := m.Evaluate(locs, routes); len(got) != 1 {
		t.Fatalf("expected initial suggestion, got %d", len(got))
	}
	m.Reset()
	if got := m.Evaluate(locs, routes); len(got) != 1 {
		t.Fatalf("expected re-suggestion after reset, got %d", len(got))
	}
}
