// Package main wires together the scrape service binary.
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
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/cloudscout/archscraper/internal/api"
	gcsarchive "github.com/cloudscout/archscraper/internal/archive/gcs"
	localarchive "github.com/cloudscout/archscraper/internal/archive/local"
	"github.com/cloudscout/archscraper/internal/clock/system"
	"github.com/cloudscout/archscraper/internal/config"
	"github.com/cloudscout/archscraper/internal/extractor"
	"github.com/cloudscout/archscraper/internal/fetcher/rendered"
	"github.com/cloudscout/archscraper/internal/fetcher/static"
	"github.com/cloudscout/archscraper/internal/hash/sha256"
	"github.com/cloudscout/archscraper/internal/id/uuid"
	"github.com/cloudscout/archscraper/internal/jobs"
	"github.com/cloudscout/archscraper/internal/logging"
	pubsubpublisher "github.com/cloudscout/archscraper/internal/publisher/pubsub"
	"github.com/cloudscout/archscraper/internal/scraper"
	badgerstorage "github.com/cloudscout/archscraper/internal/storage/badger"
	memorystorage "github.com/cloudscout/archscraper/internal/storage/memory"
	postgresstorage "github.com/cloudscout/archscraper/internal/storage/postgres"
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
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildBatchStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("batch store init failed", zap.Error(err))
	}
	defer closeStore()

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	publisher, topic, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	staticFetcher := static.New(static.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		MinDelay:  time.Duration(cfg.Scraper.MinDelayMs) * time.Millisecond,
	})

	var renderedFetcher scraper.Fetcher = rendered.NewNoop()
	if cfg.Headless.Enabled {
		chromeFetcher, err := rendered.New(rendered.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer chromeFetcher.Close()
			renderedFetcher = chromeFetcher
		}
	}

	htmlExtractor := extractor.New()
	caps := scraper.CapabilitySet{
		StaticFetcher:     staticFetcher,
		RenderedFetcher:   renderedFetcher,
		StaticExtractor:   htmlExtractor,
		RenderedExtractor: htmlExtractor,
	}

	retry := scraper.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Scraper.MaxRetries
	retry.BaseDelay = time.Duration(cfg.Scraper.BackoffInitialMs) * time.Millisecond
	retry.MaxDelay = time.Duration(cfg.Scraper.BackoffMaxMs) * time.Millisecond

	clock := system.New()
	sourceScraper := scraper.NewSourceScraper(
		caps,
		retry,
		clock,
		archive,
		sha256.New(),
		scraper.ScraperConfig{
			FetchTimeout:  cfg.FetchTimeout(),
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("scraper"),
	)

	orchestrator := scraper.NewOrchestrator(
		sourceScraper,
		clock,
		scraper.OrchestratorConfig{
			MaxConcurrent: cfg.Scraper.MaxConcurrent,
			RunDeadline:   cfg.RunDeadline(),
		},
		logger.Named("orchestrator"),
	)

	manager := jobs.NewManager(
		ctx,
		orchestrator,
		store,
		publisher,
		uuid.NewGenerator(),
		clock,
		cfg.Sources,
		jobs.Config{CompletionTopic: topic},
		logger.Named("jobs"),
	)

	apiCfg := api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(manager, store, apiCfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	manager.Wait()
	logger.Info("shutdown complete")
}

func buildBatchStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.BatchStore, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memorystorage.NewBatchStore(), func() {}, nil
	case "badger":
		store, err := badgerstorage.NewBatchStore(badgerstorage.Config{Path: cfg.Storage.Badger.Path}, logger.Named("badger"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("badger close failed", zap.Error(err))
			}
		}, nil
	case "postgres":
		store, err := postgresstorage.NewBatchStore(ctx, postgresstorage.Config{
			DSN:      cfg.Storage.Postgres.DSN,
			Table:    cfg.Storage.Postgres.Table,
			MaxConns: cfg.Storage.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (scraper.BlobStore, error) {
	switch cfg.Archive.Driver {
	case "none":
		return nil, nil
	case "local":
		return localarchive.New(localarchive.Config{BaseDir: cfg.Archive.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Archive.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scraper.Publisher, string, error) {
	if !cfg.PubSub.Enabled {
		return nil, "", nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client), cfg.PubSub.TopicName, nil
}
