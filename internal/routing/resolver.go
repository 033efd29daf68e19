package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/livemap/internal/geo"
	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/observability"
)

// Resolver turns (origin, destination) pairs into Routes. The provider path
// goes to an external routing service; any failure degrades to a straight
// two-point route with an average-speed ETA, so a resolvable distance always
// yields some estimate and the caller never sees an error.
type Resolver struct {
	Provider         Provider
	FallbackSpeedKmh float64
	BatchSize        int
	BatchDelay       time.Duration

	sleep func(time.Duration) // overridable in tests
}

func NewResolver(p Provider, fallbackSpeedKmh float64, batchSize int, batchDelay time.Duration) *Resolver {
	if fallbackSpeedKmh <= 0 {
		fallbackSpeedKmh = 60
	}
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Resolver{
		Provider:         p,
		FallbackSpeedKmh: fallbackSpeedKmh,
		BatchSize:        batchSize,
		BatchDelay:       batchDelay,
		sleep:            time.Sleep,
	}
}

// Resolve never fails for valid finite coordinates: provider errors produce a
// fallback route instead.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, origin, destination models.Coordinate) models.Route {
	if r.Provider != nil {
		start := time.Now()
		pr, err := r.Provider.Route(ctx, origin, destination)
		observability.RouteResolutionLatency.Observe(time.Since(start).Seconds())
		if err == nil && len(pr.Coordinates) >= 2 {
			observability.RouteResolutionsTotal.WithLabelValues("provider").Inc()
			return models.Route{
				OwnerID:      ownerID,
				Coordinates:  pr.Coordinates,
				DistanceKm:   pr.DistanceKm,
				DurationText: durationText(int(math.Round(pr.DurationSeconds / 60))),
				ETAMinutes:   int(math.Round(pr.DurationSeconds / 60)),
				IsFallback:   false,
			}
		}
	}
	observability.RouteResolutionsTotal.WithLabelValues("fallback").Inc()
	return r.fallback(ownerID, origin, destination)
}

func (r *Resolver) fallback(ownerID string, origin, destination models.Coordinate) models.Route {
	km := geo.HaversineKm(origin, destination)
	eta := r.FallbackETAMinutes(km)
	return models.Route{
		OwnerID:      ownerID,
		Coordinates:  []models.Coordinate{origin, destination},
		DistanceKm:   km,
		DurationText: durationText(eta),
		ETAMinutes:   eta,
		IsFallback:   true,
	}
}

// FallbackETAMinutes derives an ETA from straight-line distance at a fixed
// average speed blending city and highway driving.
func (r *Resolver) FallbackETAMinutes(distanceKm float64) int {
	return int(math.Round(distanceKm / r.FallbackSpeedKmh * 60))
}

// Job is one member's pending route resolution.
type Job struct {
	OwnerID string
	Origin  models.Coordinate
}

// ResolveAll resolves routes for many members to a shared destination in
// fixed-size batches with a short inter-batch delay, respecting third-party
// rate limits. Within a batch resolutions run concurrently and settle
// independently: one member's provider failure only affects that member's
// route, which comes back as a fallback.
func (r *Resolver) ResolveAll(ctx context.Context, jobs []Job, destination models.Coordinate) map[string]models.Route {
	out := make(map[string]models.Route, len(jobs))
	var mu sync.Mutex
	for i := 0; i < len(jobs); i += r.BatchSize {
		end := i + r.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		var wg sync.WaitGroup
		for _, j := range jobs[i:end] {
			wg.Add(1)
			go func(j Job) {
				defer wg.Done()
				route := r.Resolve(ctx, j.OwnerID, j.Origin, destination)
				mu.Lock()
				out[j.OwnerID] = route
				mu.Unlock()
			}(j)
		}
		wg.Wait()
		if end < len(jobs) {
			select {
			case <-ctx.Done():
				return out
			default:
			}
			r.sleep(r.BatchDelay)
		}
	}
	return out
}

func durationText(minutes int) string {
	if minutes <= 0 {
		return "<1 min"
	}
	return fmt.Sprintf("%d min", minutes)
}
