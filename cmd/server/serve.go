package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manpreetbhatti/lattice-sync/internal/api"
	"github.com/manpreetbhatti/lattice-sync/internal/config"
	"github.com/manpreetbhatti/lattice-sync/internal/db"
	"github.com/manpreetbhatti/lattice-sync/internal/metrics"
	"github.com/manpreetbhatti/lattice-sync/internal/objstore"
	"github.com/manpreetbhatti/lattice-sync/internal/persist"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
	"github.com/manpreetbhatti/lattice-sync/internal/ws"
)

const (
	collaborativePrefix = "/ws/collaborative"
	shutdownTimeout     = 10 * time.Second
)

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.Config{Registry: registry})

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	// Pages always live in sqlite; only their rendered content can move to S3.
	var store persist.ContentStore = database
	if cfg.Store == config.StoreS3 {
		client, err := objstore.NewS3Client(ctx, objstore.ClientConfig{Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
		if err != nil {
			return fmt.Errorf("initialize s3 client: %w", err)
		}
		store = objstore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	}

	var scheduler *persist.Scheduler
	release := func(rm *room.Room) { scheduler.Release(rm) }
	rooms := room.NewRegistry(
		room.WithGracePeriod(cfg.RoomGrace),
		room.WithIdleHook(release),
		room.WithEvictHook(release),
	)
	flushConfig := persist.DefaultConfig()
	flushConfig.Interval = cfg.FlushInterval
	flushConfig.FlushTimeout = cfg.FlushTimeout
	scheduler = persist.New(rooms, store, database, nil, m, flushConfig)

	tracker := presence.NewTracker(presence.WithTTL(cfg.PresenceTTL))
	go tracker.Run(ctx, cfg.PresenceSweep)

	gateway := ws.NewGateway(rooms, tracker, m, ws.Config{
		ReservedSegments:  cfg.ReservedSegments,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxMessageSize:    cfg.MaxMessageSize,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})

	prefixes := []string{cfg.WSPrefix}
	if cfg.WSPrefix != collaborativePrefix {
		prefixes = append(prefixes, collaborativePrefix)
	}
	handler := api.New(rooms, tracker, database).Router(api.RouterOptions{
		WebSocket:  gateway,
		WSPrefixes: prefixes,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lattice sync server starting",
			"addr", cfg.Addr,
			"db", cfg.DBPath,
			"store", cfg.Store,
			"ws", prefixes,
			"room_grace", cfg.RoomGrace,
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			scheduler.Stop(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	rooms.CloseAll()
	if err := gateway.Wait(shutdownCtx); err != nil {
		slog.Error("connections still open at shutdown", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	return nil
}
