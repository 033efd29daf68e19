package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/livemap/internal/models"
)

// Provider resolves a drivable route between two coordinates. Implementations
// wrap an external routing service and are expected to fail; the Resolver
// turns every failure into a fallback route.
type Provider interface {
	Route(ctx context.Context, origin, destination models.Coordinate) (ProviderRoute, error)
}

// ProviderRoute is the raw answer of a routing provider.
type ProviderRoute struct {
	Coordinates     []models.Coordinate
	DistanceKm      float64
	DurationSeconds float64
}

// TomTomClient queries the TomTom calculateRoute endpoint.
type TomTomClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewTomTomClient(endpoint, apiKey string, timeout time.Duration) *TomTomClient {
	return &TomTomClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (t *TomTomClient) Route(ctx context.Context, origin, destination models.Coordinate) (ProviderRoute, error) {
	u := fmt.Sprintf("%s/routing/1/calculateRoute/%.6f,%.6f:%.6f,%.6f/json?%s",
		t.Endpoint, origin.Lat, origin.Lng, destination.Lat, destination.Lng,
		url.Values{
			"key":        {t.APIKey},
			"travelMode": {"car"},
			"routeType":  {"fastest"},
		}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ProviderRoute{}, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return ProviderRoute{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ProviderRoute{}, fmt.Errorf("routing provider status %d", resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Summary struct {
				LengthInMeters      float64 `json:"lengthInMeters"`
				TravelTimeInSeconds float64 `json:"travelTimeInSeconds"`
			} `json:"summary"`
			Legs []struct {
				Points []struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"points"`
			} `json:"legs"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ProviderRoute{}, err
	}
	if len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
		return ProviderRoute{}, fmt.Errorf("routing provider returned no route")
	}
	r := out.Routes[0]
	coords := make([]models.Coordinate, 0, len(r.Legs[0].Points))
	for _, p := range r.Legs[0].Points {
		coords = append(coords, models.Coordinate{Lat: p.Latitude, Lng: p.Longitude})
	}
	return ProviderRoute{
		Coordinates:     coords,
		DistanceKm:      r.Summary.LengthInMeters / 1000,
		DurationSeconds: r.Summary.TravelTimeInSeconds,
	}, nil
}
