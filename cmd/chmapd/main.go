// Command chmapd runs the schema-mapping wizard backend: an HTTP service
// that samples Kafka topics, reads ClickHouse table schemas, maintains
// per-pipeline column mappings, and gates deployment on validation.
//
// Configuration comes entirely from CHMAP_-prefixed environment
// variables; see internal/config. Storage backends are selected with
// CHMAP_STORE_KIND (sqlite, postgres, mssql).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"chmap/internal/api"
	"chmap/internal/config"
	"chmap/internal/metrics"
	"chmap/internal/metrics/datadog"
	"chmap/internal/provider/clickhouse"
	"chmap/internal/provider/kafka"
	"chmap/internal/storage"

	// Storage backends register themselves on import.
	_ "chmap/internal/storage/mssql"
	_ "chmap/internal/storage/postgres"
	_ "chmap/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := clickhouse.New(ctx, clickhouse.Options{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
		Secure:   cfg.ClickHouse.Secure,
	})
	if err != nil {
		return err
	}
	defer schema.Close()

	sampler, err := kafka.NewSampler(kafka.Options{
		Brokers:  cfg.Kafka.Brokers,
		Username: cfg.Kafka.Username,
		Password: cfg.Kafka.Password,
		UseTLS:   cfg.Kafka.UseTLS,
	})
	if err != nil {
		return err
	}
	defer sampler.Close()

	store, err := storage.New(ctx, storage.Config{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	defer store.Close()

	backend, err := newMetrics(ctx, cfg.Datadog)
	if err != nil {
		return err
	}
	defer backend.Close()

	server := api.NewServer(api.Options{
		Schema:  schema,
		Sampler: &samplerAdapter{sampler},
		Store:   store,
		Metrics: backend,
		Logger:  log,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.Store.Kind))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// samplerAdapter narrows the Kafka sampler to the API's interface.
type samplerAdapter struct {
	sampler *kafka.Sampler
}

func (a *samplerAdapter) Sample(ctx context.Context, topic string) ([]byte, error) {
	sample, err := a.sampler.Sample(ctx, topic)
	if err != nil {
		return nil, err
	}
	return sample.Event, nil
}

func (a *samplerAdapter) Topics(context.Context) ([]string, error) {
	return a.sampler.Topics()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

func newMetrics(ctx context.Context, cfg config.DatadogConfig) (metrics.Backend, error) {
	if !cfg.Enabled {
		return metrics.Noop{}, nil
	}
	backend, err := datadog.NewBackend(ctx, datadog.Options{
		ServiceName: cfg.Service,
		Tags:        datadog.ParseTagsCSV(cfg.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("datadog metrics init: %w", err)
	}
	return backend, nil
}
