package models

import (
	"strings"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies inside WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type Member struct {
	ID      string `json:"member_id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Online  bool   `json:"is_online"`
}

// LocationSample is the latest known position of one member in one group.
// Each report overwrites the previous sample; there is never history here.
type LocationSample struct {
	MemberID   string     `json:"member_id"`
	Loc        Coordinate `json:"loc"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Destination is the shared target a group travels to. At most one per
// group, set only by a group admin; absence disables routing and matching.
type Destination struct {
	GroupID string     `json:"group_id"`
	Name    string     `json:"name"`
	Loc     Coordinate `json:"loc"`
}

// Route is a resolved path from a member's current location to the group
// destination. Routes are replaced on recomputation, never mutated.
type Route struct {
	OwnerID      string       `json:"owner_id"`
	Coordinates  []Coordinate `json:"coordinates"`
	DistanceKm   float64      `json:"distance_km"`
	DurationText string       `json:"duration_text"`
	ETAMinutes   int          `json:"eta_minutes"`
	IsFallback   bool         `json:"is_fallback"`
}

type CarpoolSuggestion struct {
	PairKey     string     `json:"pair_key"`
	GroupID     string     `json:"group_id"`
	MemberAID   string     `json:"member_a_id"`
	MemberBID   string     `json:"member_b_id"`
	Meetup      Coordinate `json:"meetup"`
	MeetupLabel string     `json:"meetup_label,omitempty"`
	DistanceKm  float64    `json:"distance_km"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PairKey builds the order-independent identity of a two-member combination.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// MemberState is one entry of a broadcast group snapshot. Lat/Lng and
// ETAMinutes are nil for members that have not reported or routed yet.
type MemberState struct {
	MemberID       string   `json:"member_id"`
	Name           string   `json:"name"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
	Online         bool     `json:"is_online"`
	ETAMinutes     *int     `json:"eta_minutes"`
	RouteDeviation bool     `json:"route_deviation"`
}

type GroupSnapshot struct {
	GroupID string        `json:"group_id"`
	Members []MemberState `json:"members"`
}

type SOSAlert struct {
	GroupID   string     `json:"group_id"`
	MemberID  string     `json:"member_id"`
	Name      string     `json:"name"`
	Loc       Coordinate `json:"loc"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
