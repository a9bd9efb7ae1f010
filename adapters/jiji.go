package adapters

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
)

const jijiBaseURL = "https://jiji.co.ke"

var jijiCategories = map[string]string{
	"phones":      "mobile-phones",
	"televisions": "tv-dvd-equipment/tv",
	"electronics": "electronics",
	"computing":   "computers-laptops",
	"home":        "home-furniture-garden",
	"fashion":     "fashion",
}

// JijiAdapter handles extraction for jiji.co.ke classified adverts
type JijiAdapter struct {
	*BaseAdapter
}

// NewJijiAdapter creates a new Jiji adapter
func NewJijiAdapter(config *types.Config, logger logrus.FieldLogger) *JijiAdapter {
	base := NewBaseAdapter(types.PlatformJiji, jijiBaseURL, jijiCategories, config, logger)
	base.priceSelector = selectorSet{".qa-adp-price", ".b-list-advert__item-price"}
	base.nameSelector = selectorSet{".qa-adp-title", ".b-list-advert__item-title"}
	return &JijiAdapter{BaseAdapter: base}
}

// ListCategory extracts candidate listings from the advert cards of a category page
func (j *JijiAdapter) ListCategory(ctx context.Context, category types.Category) ([]types.CandidateListing, error) {
	log := j.logger.WithField("category", category.Key)
	log.Debugf("Fetching category page: %s", category.URL)

	doc, err := j.GetPageContent(ctx, category.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to get category page: %w", err)
	}

	var listings []types.CandidateListing
	doc.Find(".b-list-advert__item-wrapper").Each(func(i int, card *goquery.Selection) {
		link := card.Find("a.b-list-advert__item-title").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		name := CleanName(link.Text())
		if name == "" {
			return
		}

		priceElem := card.Find(".b-list-advert__item-price").First()
		if priceElem.Length() == 0 {
			return
		}

		image, _ := j.ExtractAttribute(card, ".b-list-advert__item-image img", "src")

		listings = append(listings, types.CandidateListing{
			Name:      name,
			URL:       j.AbsoluteURL(href),
			PriceText: priceElem.Text(),
			ImageURL:  image,
		})
	})

	log.Infof("Found %d advert cards", len(listings))
	return listings, nil
}
