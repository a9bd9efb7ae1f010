package adapters

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
	"price-tracker/utils"
)

const kilimallBaseURL = "https://www.kilimall.co.ke"

var kilimallCategories = map[string]string{
	"phones":      "category/mobile-phones?id=873&form=category",
	"televisions": "category/television?id=2070&form=category",
}

// kilimallKeywords keeps only names that belong to the category; the site's own
// categorization is broad and routinely lists accessories under phones and TVs.
var kilimallKeywords = map[string][]string{
	"televisions": {"tv", "television", "smart tv", "led tv", "oled"},
	"phones":      {"phone", "smartphone", "mobile", "iphone", "samsung", "tecno", "infinix"},
}

var kilimallHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-User":            "?1",
	"Sec-Fetch-Dest":            "document",
}

var kilimallNameNoise = regexp.MustCompile(`[^\p{L}\p{N}\s\-']`)

// KilimallAdapter handles extraction for kilimall.co.ke.
// Listing pages only carry partial data, so it crawls in two stages: the listing
// yields detail links, and the collector fetches every detail page through the
// retrier, paced by the session.
type KilimallAdapter struct {
	*BaseAdapter
	keywords map[string][]string
}

// NewKilimallAdapter creates a new Kilimall adapter
func NewKilimallAdapter(config *types.Config, logger logrus.FieldLogger) *KilimallAdapter {
	base := NewBaseAdapter(types.PlatformKilimall, kilimallBaseURL, kilimallCategories, config, logger)
	base.priceSelector = selectorSet{".product-price", ".price", ".now-price", ".current-price"}
	base.nameSelector = selectorSet{".product-title", ".title", "h1"}
	base.headers = kilimallHeaders
	base.normalizer = utils.NewStrictPriceNormalizer(config.MinPrice, config.MaxPrice)
	base.cleanName = cleanKilimallName
	return &KilimallAdapter{BaseAdapter: base, keywords: kilimallKeywords}
}

// ListCategory collects the detail links of a listing page. The returned
// listings carry only URLs and are marked NeedsDetail.
func (k *KilimallAdapter) ListCategory(ctx context.Context, category types.Category) ([]types.CandidateListing, error) {
	log := k.logger.WithField("category", category.Key)
	log.Debugf("Fetching category page: %s", category.URL)

	doc, err := k.GetPageContent(ctx, category.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to get category page: %w", err)
	}

	productURLs := k.extractListingURLs(doc)
	log.Infof("Found %d product URLs", len(productURLs))

	listings := make([]types.CandidateListing, 0, len(productURLs))
	for _, productURL := range productURLs {
		listings = append(listings, types.CandidateListing{URL: productURL, NeedsDetail: true})
	}
	return listings, nil
}

// extractListingURLs finds all detail links on a listing page
func (k *KilimallAdapter) extractListingURLs(doc *goquery.Document) []string {
	var productURLs []string

	doc.Find("a[href*='/listing/']").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}

		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		productURLs = append(productURLs, k.AbsoluteURL(href))
	})

	return k.RemoveDuplicateURLs(productURLs)
}

// MatchesCategory applies the category keyword vocabulary to a product name.
// Categories without a vocabulary accept every name.
func (k *KilimallAdapter) MatchesCategory(categoryKey, name string) bool {
	keywords, ok := k.keywords[categoryKey]
	if !ok {
		return true
	}

	lower := strings.ToLower(name)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// cleanKilimallName drops punctuation other than hyphens and apostrophes
func cleanKilimallName(name string) string {
	return CleanName(kilimallNameNoise.ReplaceAllString(name, " "))
}
