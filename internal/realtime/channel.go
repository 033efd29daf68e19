package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/livemap/internal/carpool"
	"github.com/example/livemap/internal/config"
	"github.com/example/livemap/internal/debounce"
	"github.com/example/livemap/internal/geo"
	"github.com/example/livemap/internal/logging"
	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/notify"
	"github.com/example/livemap/internal/observability"
	"github.com/example/livemap/internal/routing"
	"github.com/example/livemap/internal/store"
)

// EventStore records emitted suggestions and SOS alerts. Persistence is
// best-effort and never blocks delivery.
type EventStore interface {
	SaveSuggestion(ctx context.Context, s models.CarpoolSuggestion) error
	SaveSOS(ctx context.Context, a models.SOSAlert) error
}

// Labeler resolves a human-readable name for a coordinate (meetup points).
type Labeler interface {
	Label(ctx context.Context, c models.Coordinate) (string, error)
}

// SOSPusher pushes SOS alerts to an out-of-band channel (mobile push).
type SOSPusher interface {
	PushSOS(ctx context.Context, a models.SOSAlert) error
}

// Channel is the transport boundary of the live map. Each group gets its own
// actor goroutine: all mutations of that group's state are serialized through
// a mailbox, while different groups proceed fully in parallel. The only
// blocking operation, route resolution, runs outside the actor and posts its
// result back as a message.
type Channel struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	store    store.LocationStore
	resolver *routing.Resolver
	registry Registry
	gate     *notify.Gate
	events   EventStore
	labeler  Labeler
	sosPush  SOSPusher

	mu     sync.Mutex
	groups map[string]*groupActor
	closed bool
}

func NewChannel(cfg config.ServerConfig, logger *slog.Logger, ls store.LocationStore, resolver *routing.Resolver, registry Registry, gate *notify.Gate, events EventStore, labeler Labeler, sosPush SOSPusher) *Channel {
	return &Channel{
		cfg:      cfg,
		logger:   logger,
		store:    ls,
		resolver: resolver,
		registry: registry,
		gate:     gate,
		events:   events,
		labeler:  labeler,
		sosPush:  sosPush,
		groups:   make(map[string]*groupActor),
	}
}

// Join registers a member with a group and marks them online.
func (c *Channel) Join(groupID string, m models.Member) {
	if a := c.actor(groupID); a != nil {
		a.send(msgJoin{member: m})
	}
}

// Leave is both explicit departure and transport disconnect: a lifecycle
// event, not an error. In-flight resolutions for the member are dropped
// silently on the next cycle.
func (c *Channel) Leave(groupID, memberID string) {
	if a := c.actor(groupID); a != nil {
		a.send(msgLeave{memberID: memberID})
	}
}

// ReportLocation applies one inbound location report. Invalid coordinates are
// rejected to the caller only; nothing reaches other subscribers.
func (c *Channel) ReportLocation(groupID, memberID string, lat, lng float64) error {
	a := c.actor(groupID)
	if a == nil {
		return fmt.Errorf("channel closed")
	}
	reply := make(chan error, 1)
	if !a.send(msgReport{memberID: memberID, loc: models.Coordinate{Lat: lat, Lng: lng}, at: time.Now(), reply: reply}) {
		return fmt.Errorf("group channel closed")
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return fmt.Errorf("group channel closed")
	}
}

// SetDestination replaces the group's shared destination. The carpool dedup
// set resets: previously suggested meetup points no longer apply.
func (c *Channel) SetDestination(groupID string, d models.Destination) {
	if a := c.actor(groupID); a != nil {
		a.send(msgSetDestination{dest: d})
	}
}

// SOS relays an alert immediately: no debounce, no dedup, no gating.
func (c *Channel) SOS(groupID string, alert models.SOSAlert) {
	if a := c.actor(groupID); a != nil {
		a.send(msgSOS{alert: alert})
	}
}

// Shutdown stops all group actors and their pending debounce timers.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	c.closed = true
	actors := make([]*groupActor, 0, len(c.groups))
	for _, a := range c.groups {
		actors = append(actors, a)
	}
	c.groups = make(map[string]*groupActor)
	c.mu.Unlock()
	for _, a := range actors {
		a.stop()
	}
}

func (c *Channel) actor(groupID string) *groupActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	a, ok := c.groups[groupID]
	if !ok {
		a = newGroupActor(c, groupID)
		c.groups[groupID] = a
	}
	return a
}

type msgJoin struct{ member models.Member }
type msgLeave struct{ memberID string }
type msgReport struct {
	memberID string
	loc      models.Coordinate
	at       time.Time
	reply    chan error
}
type msgSetDestination struct{ dest models.Destination }
type msgSOS struct{ alert models.SOSAlert }
type msgPipeline struct{}
type msgRoutes struct {
	seq     uint64
	routes  map[string]models.Route
	samples []models.LocationSample
}
type msgStop struct{ done chan struct{} }

// groupActor owns one group's member roster, destination, route cache and
// matcher. Its goroutine is the single writer for all of them.
type groupActor struct {
	parent *Channel
	id     string
	logger *slog.Logger
	ch     chan interface{}
	done   chan struct{}

	members map[string]models.Member
	dest    *models.Destination
	routes  map[string]models.Route
	matcher *carpool.Matcher
	deb     *debounce.Trailing
	seq     uint64
}

func newGroupActor(parent *Channel, groupID string) *groupActor {
	a := &groupActor{
		parent:  parent,
		id:      groupID,
		logger:  logging.ForGroup(parent.logger, groupID),
		ch:      make(chan interface{}, 64),
		done:    make(chan struct{}),
		members: make(map[string]models.Member),
		routes:  make(map[string]models.Route),
		matcher: carpool.NewMatcher(groupID, parent.cfg.CarpoolThresholdKm, parent.cfg.MinRoutePoints),
	}
	a.deb = debounce.NewTrailing(parent.cfg.DebounceWindow, func() {
		// Timer goroutine: hand the run back to the mailbox so the actor
		// stays the single writer.
		a.send(msgPipeline{})
	})
	go a.run()
	return a
}

// send delivers a message unless the actor has shut down; stopped actors drop
// messages silently instead of blocking the sender.
func (a *groupActor) send(m interface{}) bool {
	select {
	case a.ch <- m:
		return true
	case <-a.done:
		return false
	}
}

func (a *groupActor) stop() {
	stopped := make(chan struct{})
	if a.send(msgStop{done: stopped}) {
		<-stopped
	}
}

func (a *groupActor) run() {
	for raw := range a.ch {
		switch m := raw.(type) {
		case msgJoin:
			m.member.Online = true
			a.members[m.member.ID] = m.member
		case msgLeave:
			a.parent.store.Remove(a.id, m.memberID)
			delete(a.members, m.memberID)
			delete(a.routes, m.memberID)
			a.deb.Trigger()
		case msgReport:
			m.reply <- a.handleReport(m)
		case msgSetDestination:
			d := m.dest
			a.dest = &d
			a.routes = make(map[string]models.Route)
			a.matcher.Reset()
			// Invalidate resolutions in flight for the old destination; their
			// results must not repopulate the cleared cache or the dedup set.
			a.seq++
			a.logger.Info("destination updated", "name", d.Name, "lat", d.Loc.Lat, "lng", d.Loc.Lng)
			a.deb.Trigger()
		case msgSOS:
			a.handleSOS(m.alert)
		case msgPipeline:
			a.startPipeline()
		case msgRoutes:
			a.finishPipeline(m)
		case msgStop:
			a.deb.Stop()
			close(a.done)
			close(m.done)
			return
		}
	}
}

func (a *groupActor) handleReport(m msgReport) error {
	if err := a.parent.store.Update(a.id, m.memberID, m.loc, m.at); err != nil {
		observability.InvalidLocationsTotal.Inc()
		return err
	}
	observability.LocationUpdatesTotal.Inc()
	if member, ok := a.members[m.memberID]; ok {
		member.Online = true
		a.members[m.memberID] = member
	} else {
		a.members[m.memberID] = models.Member{ID: m.memberID, GroupID: a.id, Online: true}
	}
	a.deb.Trigger()
	return nil
}

// startPipeline kicks off route resolution for every member with a current
// location. The provider calls run in their own goroutine so the actor keeps
// accepting location updates while resolution is in flight; superseded runs
// are detected by sequence number and dropped.
func (a *groupActor) startPipeline() {
	if a.dest == nil {
		// No destination: nothing to route or match, just fan out positions.
		a.broadcastSnapshot()
		return
	}
	a.seq++
	seq := a.seq
	dest := a.dest.Loc
	samples := a.parent.store.Snapshot(a.id)
	jobs := make([]routing.Job, 0, len(samples))
	for _, s := range samples {
		jobs = append(jobs, routing.Job{OwnerID: s.MemberID, Origin: s.Loc})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		routes := a.parent.resolver.ResolveAll(ctx, jobs, dest)
		a.send(msgRoutes{seq: seq, routes: routes, samples: samples})
	}()
}

func (a *groupActor) finishPipeline(m msgRoutes) {
	if m.seq != a.seq {
		// Superseded by newer reports or a destination change. Matching
		// against these routes would resurrect the old destination, so the
		// whole result is dropped; the current run broadcasts instead.
		return
	}
	a.routes = m.routes
	a.broadcastSnapshot()
	suggestions := a.matcher.Evaluate(m.samples, m.routes)
	if len(suggestions) == 0 {
		return
	}
	// Labeling and persistence do I/O; they run off the actor goroutine. The
	// dedup set is already marked, so delivery order is the only thing at
	// stake here.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for i := range suggestions {
			a.labelAndRecord(ctx, &suggestions[i])
			a.broadcastSuggestion(suggestions[i])
		}
	}()
}

func (a *groupActor) labelAndRecord(ctx context.Context, s *models.CarpoolSuggestion) {
	s.MeetupLabel = fmt.Sprintf("%.4f, %.4f", s.Meetup.Lat, s.Meetup.Lng)
	if a.parent.labeler != nil {
		if label, err := a.parent.labeler.Label(ctx, s.Meetup); err == nil && label != "" {
			s.MeetupLabel = label
		}
	}
	if a.parent.events != nil {
		if err := a.parent.events.SaveSuggestion(ctx, *s); err != nil {
			a.logger.Warn("suggestion not persisted", "pair_key", s.PairKey, "error", err)
		}
	}
}

func (a *groupActor) broadcastSnapshot() {
	samples := a.parent.store.Snapshot(a.id)
	locByMember := make(map[string]models.LocationSample, len(samples))
	for _, s := range samples {
		locByMember[s.MemberID] = s
	}

	snap := models.GroupSnapshot{GroupID: a.id, Members: make([]models.MemberState, 0, len(a.members))}
	for id, member := range a.members {
		state := models.MemberState{MemberID: id, Name: member.Name, Online: member.Online}
		if s, ok := locByMember[id]; ok {
			lat, lng := s.Loc.Lat, s.Loc.Lng
			state.Lat, state.Lng = &lat, &lng
			if r, ok := a.routes[id]; ok {
				eta := r.ETAMinutes
				state.ETAMinutes = &eta
				if d, _, ok := geo.DistanceToRouteKm(s.Loc, r.Coordinates); ok {
					state.RouteDeviation = d > a.parent.cfg.DeviationThresholdKm
				}
			}
		}
		snap.Members = append(snap.Members, state)
	}

	ev := Envelope{Type: "group_snapshot", Snapshot: &snap}
	for _, sub := range a.parent.registry.Subscribers(a.id) {
		_ = a.parent.registry.Send(sub, ev)
	}
}

func (a *groupActor) broadcastSuggestion(s models.CarpoolSuggestion) {
	ev := Envelope{Type: "carpool_suggestion", Suggestion: &s}
	for _, sub := range a.parent.registry.Subscribers(a.id) {
		if !a.parent.gate.ShouldDeliver(sub, notify.KindCarpool, a.id, "") {
			continue
		}
		_ = a.parent.registry.Send(sub, ev)
	}
}

func (a *groupActor) handleSOS(alert models.SOSAlert) {
	alert.GroupID = a.id
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	observability.SOSAlertsTotal.Inc()
	a.logger.Warn("sos alert", "member_id", alert.MemberID)

	ev := Envelope{Type: "sos_alert", SOS: &alert}
	for _, sub := range a.parent.registry.Subscribers(a.id) {
		_ = a.parent.registry.Send(sub, ev)
	}

	// Persistence and push happen off the actor goroutine; neither may delay
	// or fail the relay above.
	events, push := a.parent.events, a.parent.sosPush
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if events != nil {
			if err := events.SaveSOS(ctx, alert); err != nil {
				a.logger.Warn("sos not persisted", "error", err)
			}
		}
		if push != nil {
			if err := push.PushSOS(ctx, alert); err != nil {
				a.logger.Warn("sos push failed", "error", err)
			}
		}
	}()
}
