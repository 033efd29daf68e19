package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the live-map API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisLocationKey string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	RoutingEndpoint string
	RoutingAPIKey   string
	RoutingTimeout  time.Duration

	PlacesEndpoint string
	PlacesAgent    string

	FallbackSpeedKmh     float64
	DebounceWindow       time.Duration
	ResolveBatchSize     int
	ResolveBatchDelay    time.Duration
	CarpoolThresholdKm   float64
	MinRoutePoints       int
	DeviationThresholdKm float64

	SOSPushEndpoint string
	SOSPushKey      string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		RedisLocationKey: "livemap_locations",
		KafkaTopic:       "member-locations",

		RoutingEndpoint: "https://api.tomtom.com",
		RoutingTimeout:  10 * time.Second,

		PlacesEndpoint: "https://nominatim.openstreetmap.org",
		PlacesAgent:    "livemap/1.0",

		FallbackSpeedKmh:     60,
		DebounceWindow:       time.Second,
		ResolveBatchSize:     3,
		ResolveBatchDelay:    500 * time.Millisecond,
		CarpoolThresholdKm:   2,
		MinRoutePoints:       2,
		DeviationThresholdKm: 0.5,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisLocationKey, "REDIS_LOCATION_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.RoutingEndpoint, "ROUTING_ENDPOINT")
	cfg.RoutingAPIKey = os.Getenv("ROUTING_API_KEY")
	setDurationFromEnv(&cfg.RoutingTimeout, "ROUTING_TIMEOUT", &errs)

	setStringFromEnv(&cfg.PlacesEndpoint, "PLACES_ENDPOINT")
	setStringFromEnv(&cfg.PlacesAgent, "PLACES_USER_AGENT")

	setFloatFromEnv(&cfg.FallbackSpeedKmh, "FALLBACK_SPEED_KMH", &errs)
	setDurationFromEnv(&cfg.DebounceWindow, "PIPELINE_DEBOUNCE_WINDOW", &errs)
	setIntFromEnv(&cfg.ResolveBatchSize, "RESOLVE_BATCH_SIZE", &errs)
	setDurationFromEnv(&cfg.ResolveBatchDelay, "RESOLVE_BATCH_DELAY", &errs)
	setFloatFromEnv(&cfg.CarpoolThresholdKm, "CARPOOL_THRESHOLD_KM", &errs)
	setIntFromEnv(&cfg.MinRoutePoints, "CARPOOL_MIN_ROUTE_POINTS", &errs)
	setFloatFromEnv(&cfg.DeviationThresholdKm, "DEVIATION_THRESHOLD_KM", &errs)

	setStringFromEnv(&cfg.SOSPushEndpoint, "SOS_PUSH_ENDPOINT")
	cfg.SOSPushKey = os.Getenv("SOS_PUSH_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ResolveBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("RESOLVE_BATCH_SIZE must be > 0"))
	}
	if cfg.CarpoolThresholdKm <= 0 {
		errs = append(errs, fmt.Errorf("CARPOOL_THRESHOLD_KM must be > 0"))
	}
	if cfg.MinRoutePoints < 2 {
		errs = append(errs, fmt.Errorf("CARPOOL_MIN_ROUTE_POINTS must be >= 2"))
	}
	if cfg.FallbackSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("FALLBACK_SPEED_KMH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
