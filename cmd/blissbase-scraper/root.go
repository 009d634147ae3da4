package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/samuba/blissbase-sub000/internal/config"
	"github.com/samuba/blissbase-sub000/internal/database"
	"github.com/samuba/blissbase-sub000/internal/extract"
	"github.com/samuba/blissbase-sub000/internal/geocode"
	"github.com/samuba/blissbase-sub000/internal/images"
	"github.com/samuba/blissbase-sub000/internal/logging"
	"github.com/samuba/blissbase-sub000/internal/metrics"
	"github.com/samuba/blissbase-sub000/internal/pipeline"
	"github.com/samuba/blissbase-sub000/internal/sources"
	"github.com/samuba/blissbase-sub000/internal/storage"
)

// imageFetchDelay paces image downloads from third-party servers, matching
// the politeness delay the adapters use for page fetches.
const imageFetchDelay = 400 * time.Millisecond

func newRootCommand() *cobra.Command {
	var clean bool

	rootCmd := &cobra.Command{
		Use:   "blissbase-scraper [source]",
		Short: "Scrape event listings into the blissbase database",
		Long: `Scrapes the configured event sources, normalizes and deduplicates
the results, caches images and geocodes, reconciles stale records, and
upserts everything into PostgreSQL.

With no argument every registered source is scraped. Passing a source
name restricts the run to that source; unknown names fall back to all
sources with a warning.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := ""
			if len(args) == 1 {
				selector = args[0]
			}
			return run(cmd.Context(), selector, clean)
		},
	}

	rootCmd.Flags().BoolVar(&clean, "clean", false, "delete all stored events of the targeted sources before scraping")

	return rootCmd
}

func run(ctx context.Context, selector string, clean bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	db, err := database.Connect(ctx, database.Config{
		URL:                cfg.Database.URL,
		MaxConnections:     cfg.Database.MaxConnections,
		MaxIdleConnections: cfg.Database.MaxIdleConnections,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		ConnectTimeout:     cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	eventStore := database.NewPostgresEventStore(db)
	geocodeStore := database.NewPostgresGeocodeStore(db)
	imageStore := database.NewPostgresImageStore(db)

	geocoder := geocode.NewHTTPGeocoder(cfg.Geocode)
	resolver := geocode.NewResolver(geocodeStore, geocoder, logger, collector)

	var enricher pipeline.ImageEnricher
	if cfg.StorageConfigured() {
		uploader, err := storage.NewClient(ctx, cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("failed to init object storage: %w", err)
		}
		limiter := rate.NewLimiter(rate.Every(imageFetchDelay), 1)
		enricher = images.New(imageStore, uploader, nil, limiter, logger, collector)
	} else {
		logger.Warn("object storage not configured, keeping source image urls")
	}

	var extractor extract.Extractor
	if cfg.Extract.APIKey != "" {
		extractor = extract.NewOpenAIExtractor(cfg.Extract, logger)
	} else {
		logger.Warn("no extraction API key, LLM-backed sources will fail")
	}

	deps := sources.NewDeps(resolver, extractor, logger)
	adapters := sources.Build(selector, deps)

	orchestrator := pipeline.NewOrchestrator(
		adapters, eventStore, enricher, logger, collector, pipeline.DefaultConfig())

	summary, err := orchestrator.Run(ctx, clean)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	logger.Info("run complete",
		"scraped", summary.Scraped,
		"persisted", summary.Persisted,
		"deleted", summary.Deleted,
		"failed_sources", summary.FailedSources,
		"duration", summary.Duration.Round(time.Millisecond),
	)
	return nil
}
