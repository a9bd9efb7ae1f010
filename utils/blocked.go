package utils

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockDetector scans page text for anti-bot indicators
type BlockDetector struct {
	indicators []string
}

// NewBlockDetector creates a detector for the given vocabulary.
// Matching is a case-insensitive substring test.
func NewBlockDetector(indicators []string) *BlockDetector {
	lowered := make([]string, 0, len(indicators))
	for _, indicator := range indicators {
		indicator = strings.ToLower(strings.TrimSpace(indicator))
		if indicator != "" {
			lowered = append(lowered, indicator)
		}
	}
	return &BlockDetector{indicators: lowered}
}

// Match returns the first indicator found in the document text
func (d *BlockDetector) Match(doc *goquery.Document) (string, bool) {
	if doc == nil {
		return "", false
	}
	return d.MatchText(doc.Text())
}

// MatchText returns the first indicator found in text
func (d *BlockDetector) MatchText(text string) (string, bool) {
	text = strings.ToLower(text)
	for _, indicator := range d.indicators {
		if strings.Contains(text, indicator) {
			return indicator, true
		}
	}
	return "", false
}
