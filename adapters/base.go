package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
	"price-tracker/utils"
)

// selectorSet holds the primary and fallback selectors for one field, in priority order
type selectorSet []string

// BaseAdapter provides common functionality for marketplace adapters.
// Everything platform-specific (base URL, category table, selectors, headers)
// is plain data set by the concrete adapter's constructor.
type BaseAdapter struct {
	platform      types.Platform
	baseURL       string
	config        *types.Config
	logger        logrus.FieldLogger
	session       *utils.Session
	normalizer    *utils.PriceNormalizer
	detector      *utils.BlockDetector
	categoryPaths map[string]string
	headers       map[string]string
	priceSelector selectorSet
	nameSelector  selectorSet
	cleanName     func(string) string
}

// NewBaseAdapter creates a base adapter with its own fetch session.
// Category paths from the configuration override the adapter's own table.
func NewBaseAdapter(platform types.Platform, defaultBaseURL string, paths map[string]string, config *types.Config, logger logrus.FieldLogger) *BaseAdapter {
	baseURL := defaultBaseURL
	if override, ok := config.BaseURLs[platform]; ok && override != "" {
		baseURL = override
	}

	categoryPaths := make(map[string]string, len(paths))
	for key, path := range paths {
		categoryPaths[key] = path
	}
	for key, path := range config.CategoryPaths[platform] {
		categoryPaths[key] = path
	}

	log := logger.WithField("platform", string(platform))
	return &BaseAdapter{
		platform:      platform,
		baseURL:       strings.TrimRight(baseURL, "/"),
		config:        config,
		logger:        log,
		session:       utils.NewSession(config, config.RequestDelayFor(platform), log),
		normalizer:    utils.NewPriceNormalizer(config.MinPrice, config.MaxPrice),
		detector:      utils.NewBlockDetector(config.BlockedIndicators),
		categoryPaths: categoryPaths,
		cleanName:     CleanName,
	}
}

// Platform returns the marketplace served by this adapter
func (b *BaseAdapter) Platform() types.Platform {
	return b.platform
}

// Open acquires the fetch session
func (b *BaseAdapter) Open() error {
	return b.session.Open()
}

// Close releases the fetch session's pooled connections
func (b *BaseAdapter) Close() {
	if b.session != nil {
		b.session.Close()
	}
}

// Categories returns the known category keys in sorted order
func (b *BaseAdapter) Categories() []string {
	keys := make([]string, 0, len(b.categoryPaths))
	for key := range b.categoryPaths {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CategoryURL resolves a category key against the adapter's category table
func (b *BaseAdapter) CategoryURL(key string) (string, error) {
	path, ok := b.categoryPaths[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no category %q", types.ErrUnknownCategory, b.platform, key)
	}
	return b.AbsoluteURL(path), nil
}

// GetPageContent fetches a page and parses it, refusing anti-bot pages
func (b *BaseAdapter) GetPageContent(ctx context.Context, pageURL string) (*goquery.Document, error) {
	_, body, err := b.session.Get(ctx, pageURL, b.headers)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &types.TransportError{URL: pageURL, StatusCode: 200, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}

	if indicator, blocked := b.detector.Match(doc); blocked {
		b.logger.WithFields(logrus.Fields{
			"url":       pageURL,
			"reason":    "blocked",
			"indicator": indicator,
		}).Warn("Blocked or captcha page detected")
		return nil, &types.BlockedError{URL: pageURL, Indicator: indicator}
	}

	return doc, nil
}

// ParseHTML parses HTML content into a goquery document
func (b *BaseAdapter) ParseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// FetchProduct fetches one detail page and runs both extractors against it.
// Missing fields are left empty; the retry controller decides what that means.
func (b *BaseAdapter) FetchProduct(ctx context.Context, productURL string) (*types.ExtractionResult, error) {
	doc, err := b.GetPageContent(ctx, productURL)
	if err != nil {
		return nil, err
	}

	result := &types.ExtractionResult{
		URL:       productURL,
		Timestamp: time.Now().UTC(),
	}
	price, raw, ok := b.extractPriceDetail(doc)
	result.PriceText = raw
	if ok {
		result.Price = &price
	}
	if name, ok := b.ExtractName(doc); ok {
		result.Name = name
	}
	return result, nil
}

// ExtractPrice returns the first selector match that normalizes to a valid price
func (b *BaseAdapter) ExtractPrice(doc *goquery.Document) (float64, bool) {
	price, _, ok := b.extractPriceDetail(doc)
	return price, ok
}

// extractPriceDetail also returns the first raw price text it saw, even if invalid
func (b *BaseAdapter) extractPriceDetail(doc *goquery.Document) (float64, string, bool) {
	var firstRaw string
	for _, selector := range b.priceSelector {
		text, err := b.ExtractText(doc, selector)
		if err != nil || text == "" {
			continue
		}
		if firstRaw == "" {
			firstRaw = text
		}
		if price, ok := b.normalizer.Normalize(text); ok {
			return price, text, true
		}
		b.logger.Debugf("Price selector %s matched unparsable text %q", selector, text)
	}
	return 0, firstRaw, false
}

// ExtractName returns the first selector match with non-empty cleaned text
func (b *BaseAdapter) ExtractName(doc *goquery.Document) (string, bool) {
	for _, selector := range b.nameSelector {
		text, err := b.ExtractText(doc, selector)
		if err != nil {
			continue
		}
		if name := b.cleanName(text); name != "" {
			return name, true
		}
	}
	return "", false
}

// ParsePrice normalizes raw price text, returning a *types.ValidationError on rejection
func (b *BaseAdapter) ParsePrice(text string) (float64, error) {
	return b.normalizer.Parse(text)
}

// IsBlocked reports whether the document looks like an anti-bot page
func (b *BaseAdapter) IsBlocked(doc *goquery.Document) bool {
	_, blocked := b.detector.Match(doc)
	return blocked
}

// ExtractText extracts the trimmed text of the first element matching selector
func (b *BaseAdapter) ExtractText(doc *goquery.Document, selector string) (string, error) {
	element := doc.Find(selector).First()
	if element.Length() == 0 {
		return "", fmt.Errorf("element not found with selector: %s", selector)
	}

	return strings.TrimSpace(element.Text()), nil
}

// ExtractAttribute extracts an attribute value from the first element matching selector
func (b *BaseAdapter) ExtractAttribute(s *goquery.Selection, selector string, attribute string) (string, error) {
	element := s.Find(selector).First()
	if element.Length() == 0 {
		return "", fmt.Errorf("element not found with selector: %s", selector)
	}

	value, exists := element.Attr(attribute)
	if !exists {
		return "", fmt.Errorf("attribute %s not found on element %s", attribute, selector)
	}

	return strings.TrimSpace(value), nil
}

// AbsoluteURL resolves a possibly relative link against the adapter's base URL
func (b *BaseAdapter) AbsoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	base, err := url.Parse(b.baseURL + "/")
	if err != nil {
		return b.baseURL + "/" + strings.TrimLeft(href, "/")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return b.baseURL + "/" + strings.TrimLeft(href, "/")
	}
	return base.ResolveReference(ref).String()
}

// RemoveDuplicateURLs removes duplicate URLs, keeping first-seen order
func (b *BaseAdapter) RemoveDuplicateURLs(urls []string) []string {
	seen := make(map[string]bool)
	var uniqueURLs []string

	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			uniqueURLs = append(uniqueURLs, u)
		}
	}

	return uniqueURLs
}

// CleanName collapses runs of whitespace in a product name
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
