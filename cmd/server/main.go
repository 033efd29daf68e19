package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/livemap/internal/config"
	"github.com/example/livemap/internal/dispatch"
	httpapi "github.com/example/livemap/internal/http"
	"github.com/example/livemap/internal/ingest"
	"github.com/example/livemap/internal/logging"
	"github.com/example/livemap/internal/notify"
	"github.com/example/livemap/internal/payments"
	"github.com/example/livemap/internal/places"
	"github.com/example/livemap/internal/realtime"
	"github.com/example/livemap/internal/routing"
	"github.com/example/livemap/internal/storage"
	"github.com/example/livemap/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var locations store.LocationStore
	if cfg.RedisAddr != "" {
		locations = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisLocationKey)
	} else {
		locations = store.NewMemoryStore()
	}

	var provider routing.Provider
	if cfg.RoutingAPIKey != "" {
		provider = routing.NewTomTomClient(cfg.RoutingEndpoint, cfg.RoutingAPIKey, cfg.RoutingTimeout)
	} else {
		logger.Warn("no routing api key configured, all routes will be fallback estimates")
	}
	resolver := routing.NewResolver(provider, cfg.FallbackSpeedKmh, cfg.ResolveBatchSize, cfg.ResolveBatchDelay)

	// optional migration: apply migrations/001_create_events.sql if requested
	if cfg.PGDSN != "" && os.Getenv("MIGRATE") == "true" {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_events.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Error("migration exec error", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_events.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Error("migration db open error", "error", err)
		}
	}

	var events storage.EventStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			events = ps
		} else {
			logger.Warn("postgres unavailable, keeping events in memory", "error", err)
		}
	}
	if events == nil {
		events = storage.NewMemoryEventStore()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	var sosPush realtime.SOSPusher
	if cfg.SOSPushEndpoint != "" {
		sosPush = dispatch.NewFCMPusher(cfg.SOSPushEndpoint, cfg.SOSPushKey)
	}

	geocoder := places.NewClient(cfg.PlacesEndpoint, cfg.PlacesAgent)
	gate := notify.NewGate()
	registry := realtime.NewWSRegistry(logger)
	channel := realtime.NewChannel(cfg, logger, locations, resolver, registry, gate, events, geocoder, sosPush)
	defer channel.Shutdown()

	fuel := payments.NewFuelShare(0)

	srv := httpapi.NewServer(cfg, logger, channel, registry, gate, geocoder, events, producer, fuel, nil)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("livemap listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
