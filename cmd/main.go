package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/sirupsen/logrus"

	"price-tracker/adapters"
	"price-tracker/extractor"
	"price-tracker/internal/config"
	"price-tracker/internal/notify"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/store"
	"price-tracker/internal/types"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Parse command line flags
	var (
		modeFlag       = flag.String("mode", "schedule", "Run mode: schedule, collect, refresh or track")
		configFlag     = flag.String("config", "", "Path to the YAML catalog file")
		platformsFlag  = flag.String("platforms", "", "Comma-separated platforms to collect (default: all)")
		categoriesFlag = flag.String("categories", "", "Comma-separated category keys (default: phones,televisions)")
		platformFlag   = flag.String("platform", "", "Platform of the URLs in track mode")
		urlsFlag       = flag.String("urls", "", "Comma-separated product URLs for track mode")
		forceFlag      = flag.Bool("force", false, "Append a history row even when the price did not change")
		outputFlag     = flag.String("output", "", "Write the run summary to this file (default: stdout)")
		requestDelay   = flag.Duration("delay", 0, "Delay between requests to one platform (overrides config)")
		maxRetries     = flag.Int("retries", 0, "Maximum fetch attempts (overrides config)")
		timeout        = flag.Duration("timeout", 0, "Request timeout (overrides config)")
		maxProducts    = flag.Int("max-products", 0, "Maximum candidates per category (overrides config)")
		parallel       = flag.Bool("parallel", false, "Run one task per platform concurrently")
		migrate        = flag.Bool("migrate", true, "Create or update the catalog tables on start")
		verbose        = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	settings, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if settings.LogLevel != "" {
		if level, err := logrus.ParseLevel(settings.LogLevel); err == nil {
			logger.SetLevel(level)
		}
	} else if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	cfg := settings.Pipeline
	if *requestDelay > 0 {
		cfg.RequestDelay = *requestDelay
	}
	if *maxRetries > 0 {
		cfg.MaxRetries = *maxRetries
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *maxProducts > 0 {
		cfg.MaxProductsPerCategory = *maxProducts
	}
	if *parallel {
		cfg.ParallelPlatforms = true
	}
	if *forceFlag {
		cfg.ForceHistory = true
	}
	if *platformsFlag != "" {
		platforms, err := parsePlatforms(*platformsFlag)
		if err != nil {
			logger.Fatalf("Invalid --platforms: %v", err)
		}
		cfg.Platforms = platforms
	}
	if *categoriesFlag != "" {
		cfg.Categories = splitList(*categoriesFlag)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	// Open the catalog
	dsn := settings.DatabaseURL
	if dsn == "" && settings.DBDriver == "sqlite" {
		dsn = "price-tracker.db"
	}
	if dsn == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	catalog, err := store.Open(settings.DBDriver, dsn, logger)
	if err != nil {
		logger.Fatalf("Failed to open catalog: %v", err)
	}
	if *migrate {
		if err := catalog.Migrate(); err != nil {
			logger.Fatalf("Failed to migrate catalog: %v", err)
		}
	}

	var publisher notify.Publisher = notify.Nop{}
	if settings.RedisURL != "" {
		redisPublisher, err := notify.Connect(context.Background(), settings.RedisURL, settings.PriceChannel, logger)
		if err != nil {
			logger.Warnf("Price change notifications disabled: %v", err)
		} else {
			publisher = redisPublisher
		}
	}

	adapterSet, err := adapters.NewSet(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create adapters: %v", err)
	}

	var track struct {
		platform types.Platform
		urls     []string
	}
	if *modeFlag == "track" {
		track.platform, err = types.ParsePlatform(*platformFlag)
		if err != nil {
			logger.Fatalf("Invalid --platform: %v", err)
		}
		track.urls = splitList(*urlsFlag)
		if len(track.urls) == 0 {
			logger.Fatal("--urls is required in track mode")
		}
		if _, ok := adapterSet[track.platform]; !ok {
			adapter, err := adapters.New(track.platform, cfg, logger)
			if err != nil {
				logger.Fatalf("Failed to create adapter: %v", err)
			}
			adapterSet[track.platform] = adapter
		}
	}

	collector := extractor.NewCollector(cfg, adapterSet, func() extractor.Storage {
		return catalog.NewBatch()
	}, publisher, logger)

	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			if err := publisher.Close(); err != nil {
				logger.Warnf("Failed to close publisher: %v", err)
			}
			if err := catalog.Close(); err != nil {
				logger.Warnf("Failed to close catalog: %v", err)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		defer close(finished)
		switch *modeFlag {
		case "schedule":
			scheduler.New(cfg, func(ctx context.Context) error {
				_, err := collector.Collect(ctx)
				return err
			}, logger).Run(ctx)
			done <- nil
		case "collect":
			done <- writeSummary(collector.Collect(ctx))(*outputFlag, logger)
		case "refresh":
			done <- writeSummary(collector.Refresh(ctx))(*outputFlag, logger)
		case "track":
			done <- writeSummary(collector.Track(ctx, track.platform, track.urls, *forceFlag))(*outputFlag, logger)
		default:
			done <- fmt.Errorf("unknown mode %q", *modeFlag)
		}
	}()

	// Setup graceful shutdown using gelmium/graceful-shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"collector": func(shutdownCtx context.Context) error {
				logger.Info("Graceful shutdown initiated...")
				cancel()
				select {
				case <-finished:
				case <-shutdownCtx.Done():
					return shutdownCtx.Err()
				}
				cleanup()
				return nil
			},
		},
	)

	logger.Infof("Running in %s mode for platforms %v", *modeFlag, cfg.Platforms)

	select {
	case err := <-done:
		cleanup()
		if err != nil {
			logger.Errorf("Run failed: %v", err)
			os.Exit(1)
		}
		logger.Info("Run completed successfully")
	case exitCode := <-wait:
		logger.Infof("Application exited with code: %d", exitCode)
		os.Exit(exitCode)
	}
}

// writeSummary adapts a run result into a function that prints it
func writeSummary(summary *extractor.RunSummary, runErr error) func(output string, logger *logrus.Logger) error {
	return func(output string, logger *logrus.Logger) error {
		if summary == nil {
			return runErr
		}

		jsonData, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}

		if output != "" {
			if err := os.WriteFile(output, jsonData, 0644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			logger.Infof("Summary written to: %s", output)
		} else {
			fmt.Println(string(jsonData))
		}

		totals := summary.Totals()
		logger.Infof("Added: %d, updated: %d, unchanged: %d, failed: %d",
			totals.Added, totals.Updated, totals.Unchanged, totals.Failed)
		return runErr
	}
}

func parsePlatforms(value string) ([]types.Platform, error) {
	var platforms []types.Platform
	for _, name := range splitList(value) {
		platform, err := types.ParsePlatform(name)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, platform)
	}
	return platforms, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
