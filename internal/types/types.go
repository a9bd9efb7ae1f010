package types

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Platform identifies a supported marketplace
type Platform string

const (
	PlatformJumia    Platform = "jumia"
	PlatformKilimall Platform = "kilimall"
	PlatformJiji     Platform = "jiji"
)

// AllPlatforms lists the supported marketplaces in collection order
var AllPlatforms = []Platform{PlatformJumia, PlatformKilimall, PlatformJiji}

// ParsePlatform resolves a platform name, case-insensitively
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllPlatforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
}

// Category is a browsable listing section of a marketplace
type Category struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CandidateListing is an unvalidated listing scraped from a category page.
// PriceText is the raw price text; the collector normalizes it with the
// adapter's ParsePrice. A listing with NeedsDetail set carries only its URL:
// name and price come from fetching the detail page.
type CandidateListing struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	PriceText   string `json:"price_text"`
	ImageURL    string `json:"image_url,omitempty"`
	NeedsDetail bool   `json:"needs_detail,omitempty"`
}

// ExtractionResult is what an adapter extracted from one product page.
// An empty Name or a nil Price means the corresponding selectors did not match.
// PriceText holds the raw matched price text, even when it failed validation.
type ExtractionResult struct {
	Name      string    `json:"name,omitempty"`
	Price     *float64  `json:"price,omitempty"`
	PriceText string    `json:"price_text,omitempty"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Complete reports whether both name and price were extracted
func (r *ExtractionResult) Complete() bool {
	return r != nil && r.Name != "" && r.Price != nil
}

// Observation is a validated price sighting ready to be recorded
type Observation struct {
	Platform  Platform
	Category  string
	Name      string
	URL       string
	Price     float64
	Timestamp time.Time
}

// PlatformAdapter defines the capability set of a marketplace adapter
type PlatformAdapter interface {
	// Platform returns the marketplace this adapter serves
	Platform() Platform

	// Open acquires the adapter's fetch session. Calling it twice is safe.
	Open() error

	// Close releases all pooled connections held by the fetch session
	Close()

	// Categories returns the category keys this adapter knows about
	Categories() []string

	// CategoryURL resolves a category key to its listing page URL
	CategoryURL(key string) (string, error)

	// ListCategory returns the candidate listings of a category page.
	// A fetch failure is returned as an error, distinct from an empty result.
	ListCategory(ctx context.Context, category Category) ([]CandidateListing, error)

	// FetchProduct fetches a product detail page and runs both extractors against it
	FetchProduct(ctx context.Context, url string) (*ExtractionResult, error)

	// ExtractPrice tries the primary and fallback price selectors
	ExtractPrice(doc *goquery.Document) (float64, bool)

	// ExtractName tries the primary and fallback name selectors
	ExtractName(doc *goquery.Document) (string, bool)

	// IsBlocked reports whether the page is an anti-bot page rather than content
	IsBlocked(doc *goquery.Document) bool

	// ParsePrice normalizes raw price text with the adapter's price rules
	ParsePrice(text string) (float64, error)
}

// CategoryFilter is implemented by adapters whose site categories are too broad.
// Detail-page candidates whose name does not match are skipped.
type CategoryFilter interface {
	MatchesCategory(categoryKey, name string) bool
}
