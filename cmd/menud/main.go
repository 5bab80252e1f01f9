// Package main wires together the menu service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/api"
	"github.com/campuseats/menud/internal/cache"
	"github.com/campuseats/menud/internal/clock/system"
	"github.com/campuseats/menud/internal/config"
	"github.com/campuseats/menud/internal/id/uuid"
	"github.com/campuseats/menud/internal/logging"
	"github.com/campuseats/menud/internal/menu"
	"github.com/campuseats/menud/internal/metrics"
	"github.com/campuseats/menud/internal/parser"
	memorypublisher "github.com/campuseats/menud/internal/publisher/memory"
	pubsubpublisher "github.com/campuseats/menud/internal/publisher/pubsub"
	"github.com/campuseats/menud/internal/query"
	"github.com/campuseats/menud/internal/reconcile"
	"github.com/campuseats/menud/internal/scheduler"
	gcssnapshot "github.com/campuseats/menud/internal/snapshot/gcs"
	localsnapshot "github.com/campuseats/menud/internal/snapshot/local"
	"github.com/campuseats/menud/internal/source"
	memorystore "github.com/campuseats/menud/internal/store/memory"
	postgresstore "github.com/campuseats/menud/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()
	idGen := uuid.NewGenerator()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	snapshots, err := buildSnapshotStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer closePublisher()

	menuCache := cache.New(cache.Config{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.CacheTTL(),
		Grace:    cfg.CacheGrace(),
	}, clock, logger)

	fetcher := source.New(source.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	reconciler := reconcile.New(store, menuCache, publisher, clock, logger)
	sched := scheduler.New(
		scheduler.Config{
			Interval:          cfg.CrawlInterval(),
			RunDeadline:       cfg.RunDeadline(),
			TargetConcurrency: cfg.Crawl.TargetConcurrency,
			SnapshotPrefix:    cfg.Snapshot.Prefix,
		},
		cfg.TargetList(),
		fetcher,
		parser.NewRegistry(),
		reconciler,
		store,
		menuCache,
		snapshots,
		clock,
		idGen,
		logger,
	)
	queries := query.New(query.Config{
		DefaultPageSize: cfg.Query.DefaultPageSize,
		MaxPageSize:     cfg.Query.MaxPageSize,
	}, store, menuCache, logger)

	server := api.NewServer(queries, sched, store, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger)

	go sched.Run(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	sched.Wait()
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (menu.Store, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return memorystore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildSnapshotStore(ctx context.Context, cfg config.Config) (menu.SnapshotStore, error) {
	switch cfg.Snapshot.Provider {
	case "none":
		return nil, nil
	case "local":
		return localsnapshot.New(cfg.Snapshot.BaseDir)
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcssnapshot.New(client, cfg.Snapshot.Bucket)
	default:
		return nil, fmt.Errorf("unknown snapshot provider %q", cfg.Snapshot.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (menu.Publisher, func(), error) {
	switch cfg.PubSub.Provider {
	case "none":
		return nil, func() {}, nil
	case "memory":
		return memorypublisher.New(), func() {}, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.TopicName)
		closer := func() {
			topic.Stop()
			_ = client.Close()
		}
		return pubsubpublisher.New(topic), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown pubsub provider %q", cfg.PubSub.Provider)
	}
}
