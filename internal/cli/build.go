package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-dataset/internal/adapter/cdo"
	"github.com/couchcryptid/flood-dataset/internal/adapter/epqs"
	"github.com/couchcryptid/flood-dataset/internal/adapter/httpserver"
	"github.com/couchcryptid/flood-dataset/internal/adapter/iem"
	"github.com/couchcryptid/flood-dataset/internal/adapter/kafka"
	"github.com/couchcryptid/flood-dataset/internal/adapter/waterdata"
	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/config"
	"github.com/couchcryptid/flood-dataset/internal/observability"
	"github.com/couchcryptid/flood-dataset/internal/output"
	"github.com/couchcryptid/flood-dataset/internal/pipeline"
)

// buildCmd runs one dataset build end to end.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fetch alerts, synthesize negatives, and write the labeled dataset.",
	Long: `Build a labeled flood / non-flood dataset.

Positives come from archived NWS flood alerts (IEM VTEC events), filtered by
significance and optionally corroborated against USGS gage heights. Negatives
are synthesized by deterministically perturbing positives away from every
known flood in space and time. Each sample is enriched with 24-hour
precipitation, ground elevation, and the nearest stream gauge's reading.

Every upstream fetch lands in an immutable cache, so rerunning the same window
touches no upstream API and reproduces the dataset byte for byte.

Examples:
  # Three years of warnings across the default flood-prone states
  floodset build

  # One county, strict gauge corroboration
  floodset build --state Texas --county Travis --strictness strict \
    --flood-stage-file stages.csv

  # Balanced 2:1 dataset with a Parquet copy
  floodset build --ratio 2.0 --parquet-file flood_dataset.parquet

  # Publish the finished dataset to Kafka
  floodset build --kafka-brokers broker1:9092,broker2:9092`,
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runBuild()
	},
}

func runBuild() error {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	counting := cache.NewCountingStore(store)

	stages, err := config.LoadFloodStages(cfg.FloodStageFile)
	if err != nil {
		return err
	}

	waterClient := waterdata.NewClient(cfg.HTTPTimeout, cfg.USGSAPIKey, metrics, logger)
	sources := pipeline.Sources{
		Alerts:    iem.NewCachedAlertSource(iem.NewClient(cfg.HTTPTimeout, metrics, logger), counting, metrics),
		Stations:  waterdata.NewCachedStationSource(waterClient, counting, metrics),
		Gauges:    waterdata.NewCachedGaugeSource(waterClient, counting, metrics),
		Elevation: epqs.NewCachedElevationSource(epqs.NewClient(cfg.HTTPTimeout, metrics, logger), counting, metrics),
	}
	if cfg.PrecipEnabled() {
		sources.Rainfall = cdo.NewCachedRainfallSource(cdo.NewClient(cfg.CDOToken, cfg.HTTPTimeout, metrics, logger), counting, metrics)
	} else {
		logger.Info("precipitation enrichment disabled, no cdo-token")
	}

	var publisher pipeline.Publisher
	var kafkaPublisher *kafka.Publisher
	if cfg.KafkaEnabled() {
		kafkaPublisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kafkaPublisher
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}

	p := pipeline.New(cfg, stages, sources, counting, publisher, logger, metrics)

	var srv *httpserver.Server
	if cfg.HTTPAddr != "" {
		srv = httpserver.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	report, runErr := p.Run(ctx)

	// A partial build still shows what it got before the failure.
	if runErr == nil || report.Samples > 0 {
		if err := output.RenderReport(os.Stdout, report); err != nil {
			logger.Error("failed to render report", "error", err)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	return runErr
}

// openStore opens the configured cache backend. The sqlite database lives
// inside cache-dir; the fs backend uses cache-dir as its root.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case cache.BackendSQLite:
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return cache.NewSQLStore(ctx, cache.BackendSQLite, filepath.Join(cfg.CacheDir, "floodset.db"))
	case cache.BackendPostgres:
		return cache.NewSQLStore(ctx, cache.BackendPostgres, cfg.CacheDBConnect)
	case cache.BackendFS:
		return cache.NewFSStore(cfg.CacheDir)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}
