package adapters

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
)

const jumiaBaseURL = "https://www.jumia.co.ke"

// jumiaCategories maps category keys to listing paths on jumia.co.ke
var jumiaCategories = map[string]string{
	"phones":      "phones-tablets/",
	"televisions": "televisions/",
	"computing":   "computing/",
	"electronics": "electronics/",
	"gaming":      "gaming/",
	"home":        "home-office/",
}

// JumiaAdapter handles extraction for jumia.co.ke.
// Jumia listing cards already carry name and price, so no detail fetch is needed.
type JumiaAdapter struct {
	*BaseAdapter
}

// NewJumiaAdapter creates a new Jumia adapter
func NewJumiaAdapter(config *types.Config, logger logrus.FieldLogger) *JumiaAdapter {
	base := NewBaseAdapter(types.PlatformJumia, jumiaBaseURL, jumiaCategories, config, logger)
	base.priceSelector = selectorSet{"span.-b.-ltr.-tal.-fs24", ".prc"}
	base.nameSelector = selectorSet{"h1.-fs20.-pts.-pbxs", ".name"}
	return &JumiaAdapter{BaseAdapter: base}
}

// ListCategory extracts candidate listings from the product cards of a category page
func (j *JumiaAdapter) ListCategory(ctx context.Context, category types.Category) ([]types.CandidateListing, error) {
	log := j.logger.WithField("category", category.Key)
	log.Debugf("Fetching category page: %s", category.URL)

	doc, err := j.GetPageContent(ctx, category.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to get category page: %w", err)
	}

	var listings []types.CandidateListing
	doc.Find("article.prd._fb.col.c-prd").Each(func(i int, card *goquery.Selection) {
		href, err := j.ExtractAttribute(card, "a.core", "href")
		if err != nil || href == "" {
			log.Debugf("Card %d has no product link", i)
			return
		}

		name := CleanName(card.Find(".name").First().Text())
		if name == "" {
			log.Debugf("Card %d has no name", i)
			return
		}

		priceElem := card.Find(".prc").First()
		if priceElem.Length() == 0 {
			log.Debugf("Card %d has no price element", i)
			return
		}

		image, _ := j.ExtractAttribute(card, "img.img", "data-src")

		listings = append(listings, types.CandidateListing{
			Name:      name,
			URL:       j.AbsoluteURL(href),
			PriceText: priceElem.Text(),
			ImageURL:  image,
		})
	})

	log.Infof("Found %d product cards", len(listings))
	return listings, nil
}
