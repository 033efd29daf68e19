package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/livemap/internal/models"
)

// Place is one geocoding result.
type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Client queries a Nominatim instance for forward and reverse geocoding.
// Nominatim's usage policy requires an identifying User-Agent.
type Client struct {
	Endpoint  string
	UserAgent string
	HTTP      *http.Client
}

func NewClient(endpoint, userAgent string) *Client {
	return &Client{Endpoint: endpoint, UserAgent: userAgent, HTTP: &http.Client{Timeout: 8 * time.Second}}
}

// Search finds places matching a free-text query, used when an admin picks a
// destination.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	if limit <= 0 {
		limit = 8
	}
	u := c.Endpoint + "/search?" + url.Values{
		"q":              {query},
		"format":         {"json"},
		"addressdetails": {"0"},
		"limit":          {strconv.Itoa(limit)},
	}.Encode()
	var raw []struct {
		DisplayName string `json:"display_name"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}
	if err := c.get(ctx, u, &raw); err != nil {
		return nil, err
	}
	out := make([]Place, 0, len(raw))
	for _, p := range raw {
		lat, err1 := strconv.ParseFloat(p.Lat, 64)
		lng, err2 := strconv.ParseFloat(p.Lon, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Place{Name: p.DisplayName, Lat: lat, Lng: lng})
	}
	return out, nil
}

// Label reverse-geocodes a coordinate into a display name for meetup points.
func (c *Client) Label(ctx context.Context, coord models.Coordinate) (string, error) {
	u := c.Endpoint + "/reverse?" + url.Values{
		"lat":    {fmt.Sprintf("%.6f", coord.Lat)},
		"lon":    {fmt.Sprintf("%.6f", coord.Lng)},
		"format": {"json"},
	}.Encode()
	var raw struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.get(ctx, u, &raw); err != nil {
		return "", err
	}
	return raw.DisplayName, nil
}

func (c *Client) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
