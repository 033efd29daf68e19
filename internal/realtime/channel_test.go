package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/livemap/internal/config"
	"github.com/example/livemap/internal/logging"
	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/notify"
	"github.com/example/livemap/internal/routing"
	"github.com/example/livemap/internal/store"
)

type fakeRegistry struct {
	mu     sync.Mutex
	subs   map[string][]string
	frames map[string][]Envelope
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{subs: make(map[string][]string), frames: make(map[string][]Envelope)}
}

func (f *fakeRegistry) join(groupID, sub string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[groupID] = append(f.subs[groupID], sub)
}

func (f *fakeRegistry) Subscribers(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs[groupID]...)
}

func (f *fakeRegistry) Send(sub string, ev Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[sub] = append(f.frames[sub], ev)
	return nil
}

func (f *fakeRegistry) framesFor(sub string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.frames[sub]...)
}

func (f *fakeRegistry) count(sub, typ string) int {
	n := 0
	for _, ev := range f.framesFor(sub) {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		DebounceWindow:       10 * time.Millisecond,
		ResolveBatchSize:     3,
		ResolveBatchDelay:    0,
		CarpoolThresholdKm:   2,
		MinRoutePoints:       2,
		DeviationThresholdKm: 0.5,
		FallbackSpeedKmh:     60,
	}
}

func newTestChannel(reg Registry, gate *notify.Gate) *Channel {
	cfg := testConfig()
	resolver := routing.NewResolver(nil, cfg.FallbackSpeedKmh, cfg.ResolveBatchSize, cfg.ResolveBatchDelay)
	return NewChannel(cfg, logging.NewLogger("error"), store.NewMemoryStore(), resolver, reg, gate, nil, nil, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestInvalidCoordinateRejectedToCallerOnly(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	ch := newTestChannel(reg, notify.NewGate())
	defer ch.Shutdown()

	err := ch.ReportLocation("g1", "m1", 123, 73.85)
	if !errors.Is(err, store.ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	for _, ev := range reg.framesFor("subA") {
		if ev.Snapshot != nil {
			for _, m := range ev.Snapshot.Members {
				if m.Lat != nil {
					t.Fatal("rejected sample leaked into a snapshot")
				}
			}
		}
	}
}

func TestCarpoolScenarioEmitsExactlyOneSuggestion(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	gate := notify.NewGate()
	ch := newTestChannel(reg, gate)
	defer ch.Shutdown()

	ch.Join("g1", models.Member{ID: "A", GroupID: "g1", Name: "Asha"})
	ch.Join("g1", models.Member{ID: "B", GroupID: "g1", Name: "Bhaskar"})
	ch.SetDestination("g1", models.Destination{GroupID: "g1", Name: "Mandi", Loc: models.Coordinate{Lat: 18.60, Lng: 73.90}})

	// A's fallback route is the straight line to the destination; B sits
	// within 2km of it.
	if err := ch.ReportLocation("g1", "A", 18.52, 73.85); err != nil {
		t.Fatal(err)
	}
	if err := ch.ReportLocation("g1", "B", 18.55, 73.87); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return reg.count("subA", "carpool_suggestion") >= 1 })

	// Keep reporting: the pair must never be re-suggested.
	for i := 0; i < 5; i++ {
		_ = ch.ReportLocation("g1", "A", 18.521, 73.851)
		_ = ch.ReportLocation("g1", "B", 18.551, 73.871)
		time.Sleep(30 * time.Millisecond)
	}
	if got := reg.count("subA", "carpool_suggestion"); got != 1 {
		t.Fatalf("pair suggested %d times, want exactly 1", got)
	}

	var sugg *models.CarpoolSuggestion
	for _, ev := range reg.framesFor("subA") {
		if ev.Suggestion != nil {
			sugg = ev.Suggestion
		}
	}
	if sugg.PairKey != models.PairKey("A", "B") {
		t.Fatalf("unexpected pair %q", sugg.PairKey)
	}
	if sugg.MeetupLabel == "" {
		t.Fatal("suggestion missing meetup label")
	}
}

func TestSnapshotReflectsLatestOfConcurrentReports(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	reg.join("g1", "subB")
	ch := newTestChannel(reg, notify.NewGate())
	defer ch.Shutdown()

	ch.SetDestination("g1", models.Destination{GroupID: "g1", Name: "Mandi", Loc: models.Coordinate{Lat: 19.0, Lng: 74.0}})
	members := []string{"m1", "m2", "m3", "m4", "m5"}
	var wg sync.WaitGroup
	for i, id := range members {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for k := 0; k < 10; k++ {
				_ = ch.ReportLocation("g1", id, 18.5+float64(i)*0.01, 73.8+float64(k)*0.001)
			}
		}(i, id)
	}
	wg.Wait()

	waitFor(t, func() bool {
		frames := reg.framesFor("subB")
		for i := len(frames) - 1; i >= 0; i-- {
			if frames[i].Snapshot == nil {
				continue
			}
			snap := frames[i].Snapshot
			if len(snap.Members) != len(members) {
				return false
			}
			for _, m := range snap.Members {
				if m.Lat == nil || m.ETAMinutes == nil {
					return false
				}
				// Latest report for every member has lng 73.8 + 9*0.001.
				if *m.Lng < 73.8089 || *m.Lng > 73.8091 {
					return false
				}
			}
			return true
		}
		return false
	})
}

func TestGatedSubscriberMissesCarpoolButGetsSOS(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("G", "viewer")
	reg.join("G", "away")
	gate := notify.NewGate()
	gate.SetActiveGroup("viewer", "G")
	ch := newTestChannel(reg, gate)
	defer ch.Shutdown()

	ch.Join("G", models.Member{ID: "A", GroupID: "G"})
	ch.Join("G", models.Member{ID: "B", GroupID: "G"})
	ch.SetDestination("G", models.Destination{GroupID: "G", Loc: models.Coordinate{Lat: 18.60, Lng: 73.90}})
	_ = ch.ReportLocation("G", "A", 18.52, 73.85)
	_ = ch.ReportLocation("G", "B", 18.55, 73.87)

	waitFor(t, func() bool { return reg.count("away", "carpool_suggestion") == 1 })
	if got := reg.count("viewer", "carpool_suggestion"); got != 0 {
		t.Fatalf("viewer of group G must not get carpool notifications, got %d", got)
	}

	ch.SOS("G", models.SOSAlert{MemberID: "A", Name: "Asha", Loc: models.Coordinate{Lat: 18.52, Lng: 73.85}})
	waitFor(t, func() bool { return reg.count("viewer", "sos_alert") == 1 })
}

func TestLeaveRemovesMemberFromSnapshots(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	ch := newTestChannel(reg, notify.NewGate())
	defer ch.Shutdown()

	ch.Join("g1", models.Member{ID: "m1", GroupID: "g1"})
	ch.Join("g1", models.Member{ID: "m2", GroupID: "g1"})
	_ = ch.ReportLocation("g1", "m1", 18.52, 73.85)
	_ = ch.ReportLocation("g1", "m2", 18.53, 73.86)
	waitFor(t, func() bool { return reg.count("subA", "group_snapshot") >= 1 })

	ch.Leave("g1", "m1")
	waitFor(t, func() bool {
		frames := reg.framesFor("subA")
		for i := len(frames) - 1; i >= 0; i-- {
			if frames[i].Snapshot != nil {
				snap := frames[i].Snapshot
				if len(snap.Members) != 1 {
					return false
				}
				return snap.Members[0].MemberID == "m2"
			}
		}
		return false
	})
}

type gatedProvider struct{ release chan struct{} }

func (p *gatedProvider) Route(ctx context.Context, origin, destination models.Coordinate) (routing.ProviderRoute, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return routing.ProviderRoute{}, errors.New("provider down")
}

func TestDestinationChangeDropsInFlightResolution(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	cfg := testConfig()
	p := &gatedProvider{release: make(chan struct{})}
	resolver := routing.NewResolver(p, cfg.FallbackSpeedKmh, cfg.ResolveBatchSize, cfg.ResolveBatchDelay)
	ch := NewChannel(cfg, logging.NewLogger("error"), store.NewMemoryStore(), resolver, reg, notify.NewGate(), nil, nil, nil)
	defer ch.Shutdown()

	// Under the first destination B sits on A's straight route; under the
	// second destination the pair is kilometers apart from each other's routes
	// and must not match.
	ch.SetDestination("g1", models.Destination{GroupID: "g1", Loc: models.Coordinate{Lat: 18.60, Lng: 73.90}})
	_ = ch.ReportLocation("g1", "A", 18.52, 73.85)
	_ = ch.ReportLocation("g1", "B", 18.55, 73.87)
	time.Sleep(30 * time.Millisecond) // resolution for the first destination now in flight

	ch.SetDestination("g1", models.Destination{GroupID: "g1", Loc: models.Coordinate{Lat: 18.52, Lng: 74.00}})
	time.Sleep(30 * time.Millisecond)
	close(p.release)

	// Wait for the pipeline of the new destination to settle.
	waitFor(t, func() bool {
		frames := reg.framesFor("subA")
		for i := len(frames) - 1; i >= 0; i-- {
			if frames[i].Snapshot == nil {
				continue
			}
			snap := frames[i].Snapshot
			if len(snap.Members) != 2 {
				return false
			}
			for _, m := range snap.Members {
				if m.ETAMinutes == nil {
					return false
				}
			}
			return true
		}
		return false
	})
	if got := reg.count("subA", "carpool_suggestion"); got != 0 {
		t.Fatalf("match against the abandoned destination's routes was delivered %d times", got)
	}

	// The pair must still be eligible: once B moves onto A's current route
	// they match, proving the stale run did not poison the dedup set.
	if err := ch.ReportLocation("g1", "B", 18.525, 73.95); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return reg.count("subA", "carpool_suggestion") == 1 })
}

type slowProvider struct{}

func (slowProvider) Route(ctx context.Context, origin, destination models.Coordinate) (routing.ProviderRoute, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return routing.ProviderRoute{}, ctx.Err()
	}
	return routing.ProviderRoute{
		Coordinates:     []models.Coordinate{origin, destination},
		DistanceKm:      5,
		DurationSeconds: 600,
	}, nil
}

func TestLocationUpdatesAcceptedWhileResolutionInFlight(t *testing.T) {
	reg := newFakeRegistry()
	reg.join("g1", "subA")
	cfg := testConfig()
	resolver := routing.NewResolver(slowProvider{}, cfg.FallbackSpeedKmh, cfg.ResolveBatchSize, cfg.ResolveBatchDelay)
	ch := NewChannel(cfg, logging.NewLogger("error"), store.NewMemoryStore(), resolver, reg, notify.NewGate(), nil, nil, nil)
	defer ch.Shutdown()

	ch.SetDestination("g1", models.Destination{GroupID: "g1", Loc: models.Coordinate{Lat: 18.60, Lng: 73.90}})
	_ = ch.ReportLocation("g1", "m1", 18.52, 73.85)
	time.Sleep(20 * time.Millisecond) // pipeline now awaiting the slow provider

	start := time.Now()
	if err := ch.ReportLocation("g1", "m1", 18.53, 73.86); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("location update blocked behind route resolution for %v", elapsed)
	}
}
