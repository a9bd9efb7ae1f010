package types

import (
	"fmt"
	"time"
)

// Config holds the configuration for the collection pipeline
type Config struct {
	// Fetching
	RequestDelay         time.Duration
	PlatformRequestDelay map[Platform]time.Duration
	Timeout              time.Duration
	UserAgent            string
	BaseURLs             map[Platform]string

	// Retrying
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Validation
	MinPrice          float64
	MaxPrice          float64
	BlockedIndicators []string

	// Collection
	Platforms              []Platform
	Categories             []string
	CategoryPaths          map[Platform]map[string]string
	MaxProductsPerCategory int
	BatchSize              int
	CategoryDelayMin       time.Duration
	CategoryDelayMax       time.Duration
	PlatformDelayMin       time.Duration
	PlatformDelayMax       time.Duration
	ParallelPlatforms      bool
	ForceHistory           bool

	// Scheduling
	SchedulePeriod time.Duration
	PollInterval   time.Duration
	ErrorCooldown  time.Duration
}

// DefaultBlockedIndicators is the anti-bot vocabulary scanned for on every page
var DefaultBlockedIndicators = []string{"captcha", "blocked", "too many requests", "access denied"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RequestDelay: 1 * time.Second,
		PlatformRequestDelay: map[Platform]time.Duration{
			PlatformKilimall: 2 * time.Second,
		},
		Timeout:   30 * time.Second,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",

		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,

		MinPrice:          1.0,
		MaxPrice:          10000000.0,
		BlockedIndicators: append([]string(nil), DefaultBlockedIndicators...),

		Platforms:              append([]Platform(nil), AllPlatforms...),
		Categories:             []string{"phones", "televisions"},
		MaxProductsPerCategory: 50,
		BatchSize:              10,
		CategoryDelayMin:       1 * time.Second,
		CategoryDelayMax:       3 * time.Second,
		PlatformDelayMin:       2 * time.Second,
		PlatformDelayMax:       5 * time.Second,

		SchedulePeriod: 6 * time.Hour,
		PollInterval:   1 * time.Minute,
		ErrorCooldown:  5 * time.Minute,
	}
}

// RequestDelayFor returns the request pacing for a platform
func (c *Config) RequestDelayFor(p Platform) time.Duration {
	if d, ok := c.PlatformRequestDelay[p]; ok {
		return d
	}
	return c.RequestDelay
}

// Validate checks the configuration for values that would make every run fail
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MinPrice <= 0 || c.MaxPrice <= c.MinPrice {
		return fmt.Errorf("invalid price bounds [%v, %v]", c.MinPrice, c.MaxPrice)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxProductsPerCategory < 1 {
		return fmt.Errorf("max products per category must be at least 1, got %d", c.MaxProductsPerCategory)
	}
	if c.SchedulePeriod <= 0 {
		return fmt.Errorf("schedule period must be positive, got %v", c.SchedulePeriod)
	}
	if c.CategoryDelayMax < c.CategoryDelayMin || c.PlatformDelayMax < c.PlatformDelayMin {
		return fmt.Errorf("delay band maximum is below its minimum")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("no platforms configured")
	}
	return nil
}
