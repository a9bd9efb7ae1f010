package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"price-tracker/internal/notify"
	"price-tracker/internal/types"
)

// Settings is everything the process needs to start
type Settings struct {
	DatabaseURL  string
	DBDriver     string
	RedisURL     string
	PriceChannel string
	LogLevel     string

	Pipeline *types.Config
}

// catalogFile is the YAML layout of the optional catalog file
type catalogFile struct {
	Platforms              []string            `yaml:"platforms"`
	Categories             []string            `yaml:"categories"`
	MinPrice               *float64            `yaml:"min_price"`
	MaxPrice               *float64            `yaml:"max_price"`
	MaxRetries             *int                `yaml:"max_retries"`
	RetryBaseDelay         *time.Duration      `yaml:"retry_base_delay"`
	RateLimitDelay         *time.Duration      `yaml:"rate_limit_delay"`
	Timeout                *time.Duration      `yaml:"timeout"`
	MaxProductsPerCategory *int                `yaml:"max_products_per_category"`
	BatchSize              *int                `yaml:"batch_size"`
	SchedulePeriod         *time.Duration      `yaml:"schedule_period"`
	ParallelPlatforms      *bool               `yaml:"parallel_platforms"`
	BlockedIndicators      []string            `yaml:"blocked_indicators"`
	Sites                  map[string]siteFile `yaml:"sites"`
}

type siteFile struct {
	BaseURL        string            `yaml:"base_url"`
	RateLimitDelay *time.Duration    `yaml:"rate_limit_delay"`
	Categories     map[string]string `yaml:"categories"`
}

// Load reads .env, the environment and, when path is set, the YAML catalog file
func Load(path string) (*Settings, error) {
	// Load .env file if present
	_ = godotenv.Load()

	settings := &Settings{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBDriver:     getEnv("DB_DRIVER", "postgres"),
		RedisURL:     os.Getenv("REDIS_URL"),
		PriceChannel: getEnv("PRICE_CHANNEL", notify.DefaultChannel),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Pipeline:     types.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		if err := apply(settings.Pipeline, data); err != nil {
			return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
		}
	}

	if err := settings.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func apply(cfg *types.Config, data []byte) error {
	var file catalogFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if len(file.Platforms) > 0 {
		cfg.Platforms = cfg.Platforms[:0]
		for _, name := range file.Platforms {
			platform, err := types.ParsePlatform(name)
			if err != nil {
				return err
			}
			cfg.Platforms = append(cfg.Platforms, platform)
		}
	}
	if len(file.Categories) > 0 {
		cfg.Categories = file.Categories
	}
	if len(file.BlockedIndicators) > 0 {
		cfg.BlockedIndicators = file.BlockedIndicators
	}

	setFloat(&cfg.MinPrice, file.MinPrice)
	setFloat(&cfg.MaxPrice, file.MaxPrice)
	setInt(&cfg.MaxRetries, file.MaxRetries)
	setInt(&cfg.MaxProductsPerCategory, file.MaxProductsPerCategory)
	setInt(&cfg.BatchSize, file.BatchSize)
	setDuration(&cfg.RetryBaseDelay, file.RetryBaseDelay)
	setDuration(&cfg.RequestDelay, file.RateLimitDelay)
	setDuration(&cfg.Timeout, file.Timeout)
	setDuration(&cfg.SchedulePeriod, file.SchedulePeriod)
	if file.ParallelPlatforms != nil {
		cfg.ParallelPlatforms = *file.ParallelPlatforms
	}

	for name, site := range file.Sites {
		platform, err := types.ParsePlatform(name)
		if err != nil {
			return err
		}
		if site.BaseURL != "" {
			if cfg.BaseURLs == nil {
				cfg.BaseURLs = make(map[types.Platform]string)
			}
			cfg.BaseURLs[platform] = site.BaseURL
		}
		if site.RateLimitDelay != nil {
			if cfg.PlatformRequestDelay == nil {
				cfg.PlatformRequestDelay = make(map[types.Platform]time.Duration)
			}
			cfg.PlatformRequestDelay[platform] = *site.RateLimitDelay
		}
		if len(site.Categories) > 0 {
			if cfg.CategoryPaths == nil {
				cfg.CategoryPaths = make(map[types.Platform]map[string]string)
			}
			cfg.CategoryPaths[platform] = site.Categories
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
