package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"price-tracker/adapters"
	"price-tracker/internal/config"
	"price-tracker/internal/types"
)

// pageFetcher is implemented by every adapter through BaseAdapter
type pageFetcher interface {
	GetPageContent(ctx context.Context, url string) (*goquery.Document, error)
}

func main() {
	var (
		platformFlag = flag.String("platform", "jumia", "Platform to probe")
		categoryFlag = flag.String("category", "phones", "Category key to probe")
		configFlag   = flag.String("config", "", "Path to the YAML catalog file")
		linkFilter   = flag.String("links", "", "Only count links whose href contains this marker")
		sampleSize   = flag.Int("sample", 10, "Number of links to print")
	)
	flag.Parse()

	settings, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := settings.Pipeline
	cfg.MaxRetries = 1

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	platform, err := types.ParsePlatform(*platformFlag)
	if err != nil {
		log.Fatal(err)
	}
	adapter, err := adapters.New(platform, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := adapter.Open(); err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer adapter.Close()

	categoryURL, err := adapter.CategoryURL(*categoryFlag)
	if err != nil {
		log.Fatalf("%v (known categories: %s)", err, strings.Join(adapter.Categories(), ", "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Printf("=== Probing %s / %s ===\n", platform, *categoryFlag)
	fmt.Printf("URL: %s\n", categoryURL)
	probeLinks(ctx, adapter.(pageFetcher), categoryURL, *linkFilter, *sampleSize)

	start := time.Now()
	listings, err := adapter.ListCategory(ctx, types.Category{Key: *categoryFlag, URL: categoryURL})
	if err != nil {
		log.Fatalf("Failed to list category (%s): %v", types.Reason(err), err)
	}

	fmt.Printf("\nCandidates: %d (in %v)\n", len(listings), time.Since(start).Round(time.Millisecond))
	for i, candidate := range listings {
		if candidate.NeedsDetail {
			result, err := adapter.FetchProduct(ctx, candidate.URL)
			if err != nil {
				fmt.Printf("  %d: %s\n     detail fetch failed (%s): %v\n", i+1, candidate.URL, types.Reason(err), err)
				continue
			}
			candidate.Name, candidate.PriceText = result.Name, result.PriceText
		}
		price := "invalid"
		if value, err := adapter.ParsePrice(candidate.PriceText); err == nil {
			price = fmt.Sprintf("%.2f", value)
		}
		fmt.Printf("  %d: %s\n     url=%s\n     price_text=%q parsed=%s\n", i+1, candidate.Name, candidate.URL, candidate.PriceText, price)
	}
}

func probeLinks(ctx context.Context, fetcher pageFetcher, pageURL, marker string, sample int) {
	doc, err := fetcher.GetPageContent(ctx, pageURL)
	if err != nil {
		log.Printf("Failed to get category page: %v", err)
		return
	}

	// Find all links
	allLinks := doc.Find("a")
	fmt.Printf("Total links found: %d\n", allLinks.Length())

	if marker != "" {
		fmt.Printf("Links with '%s' in href: %d\n", marker, doc.Find(fmt.Sprintf("a[href*='%s']", marker)).Length())
	}

	fmt.Println("Sample of links:")
	count := 0
	allLinks.Each(func(i int, s *goquery.Selection) {
		if count >= sample {
			return
		}
		href, _ := s.Attr("href")
		if href == "" || len(href) >= 100 {
			return
		}
		if marker != "" && !strings.Contains(href, marker) {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		fmt.Printf("  %d: href='%s', text='%s'\n", i+1, href, text)
		count++
	})
}
