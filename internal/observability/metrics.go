package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationUpdatesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "livemap", Name: "location_updates_total", Help: "Total accepted location reports"})
	InvalidLocationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "livemap", Name: "invalid_locations_total", Help: "Location reports rejected for out-of-range coordinates"})

	RouteResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "livemap", Name: "route_resolutions_total", Help: "Route resolutions by outcome"},
		[]string{"outcome"}, // provider | fallback
	)
	RouteResolutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "livemap", Name: "route_resolution_seconds", Help: "Routing provider latency distribution"})

	SuggestionsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "livemap", Name: "carpool_suggestions_total", Help: "Carpool suggestions emitted"})
	SOSAlertsTotal          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "livemap", Name: "sos_alerts_total", Help: "SOS alerts relayed"})
	SubscribersOnline       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "livemap", Name: "subscribers_online", Help: "Currently connected websocket subscribers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "livemap", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "livemap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
