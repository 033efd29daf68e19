package geo

import (
	"math"

	"github.com/example/livemap/internal/models"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// points, approximating Earth as a sphere.
func HaversineKm(a, b models.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceToSegmentKm projects p onto the segment [segStart, segEnd] in a
// locally-flat approximation, clamps the projection parameter to [0,1], and
// returns the haversine distance from p to the clamped nearest point along
// with that point. For a degenerate segment it degrades to HaversineKm.
func DistanceToSegmentKm(p, segStart, segEnd models.Coordinate) (float64, models.Coordinate) {
	dLat := segEnd.Lat - segStart.Lat
	dLng := segEnd.Lng - segStart.Lng
	lenSq := dLat*dLat + dLng*dLng
	if lenSq == 0 {
		return HaversineKm(p, segStart), segStart
	}
	t := ((p.Lat-segStart.Lat)*dLat + (p.Lng-segStart.Lng)*dLng) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	nearest := models.Coordinate{
		Lat: segStart.Lat + t*dLat,
		Lng: segStart.Lng + t*dLng,
	}
	return HaversineKm(p, nearest), nearest
}

// DistanceToRouteKm scans every consecutive coordinate pair of route and
// returns the minimum segment distance from p and the nearest point on the
// route. ok is false when the route has fewer than two points.
func DistanceToRouteKm(p models.Coordinate, route []models.Coordinate) (float64, models.Coordinate, bool) {
	if len(route) < 2 {
		return 0, models.Coordinate{}, false
	}
	best := math.Inf(1)
	var bestPoint models.Coordinate
	for i := 0; i < len(route)-1; i++ {
		d, nearest := DistanceToSegmentKm(p, route[i], route[i+1])
		if d < best {
			best = d
			bestPoint = nearest
		}
	}
	return best, bestPoint, true
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
