package utils

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"price-tracker/internal/types"
)

var (
	nonPriceChars = regexp.MustCompile(`[^\d.]`)
	firstPriceRun = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// PriceNormalizer turns free-text prices into validated numbers.
// It is a pure value and safe for concurrent use.
type PriceNormalizer struct {
	min    decimal.Decimal
	max    decimal.Decimal
	strict bool
}

// NewPriceNormalizer creates a normalizer accepting prices in [min, max].
// It strips every character that is not a digit or a decimal point.
func NewPriceNormalizer(min, max float64) *PriceNormalizer {
	return &PriceNormalizer{
		min: decimal.NewFromFloat(min),
		max: decimal.NewFromFloat(max),
	}
}

// NewStrictPriceNormalizer creates a normalizer that only reads the first
// contiguous run of digits and separators, ignoring anything after it.
func NewStrictPriceNormalizer(min, max float64) *PriceNormalizer {
	n := NewPriceNormalizer(min, max)
	n.strict = true
	return n
}

// Parse returns the price in text or a *types.ValidationError
func (n *PriceNormalizer) Parse(text string) (float64, error) {
	raw := strings.TrimSpace(text)

	var cleaned string
	if n.strict {
		cleaned = strings.ReplaceAll(firstPriceRun.FindString(raw), ",", "")
	} else {
		// a dot from an abbreviation such as "Ksh." is not a decimal point
		cleaned = strings.Trim(nonPriceChars.ReplaceAllString(raw, ""), ".")
	}
	if cleaned == "" {
		return 0, &types.ValidationError{Value: raw, Reason: "no digits"}
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, &types.ValidationError{Value: raw, Reason: "unparsable number"}
	}
	if price.LessThan(n.min) {
		return 0, &types.ValidationError{Value: raw, Reason: "below minimum price " + n.min.String()}
	}
	if price.GreaterThan(n.max) {
		return 0, &types.ValidationError{Value: raw, Reason: "above maximum price " + n.max.String()}
	}

	value, _ := price.Float64()
	return value, nil
}

// Normalize is Parse without the reason: it returns the price or false
func (n *PriceNormalizer) Normalize(text string) (float64, bool) {
	price, err := n.Parse(text)
	if err != nil {
		return 0, false
	}
	return price, true
}

// Validate checks an already numeric price against the bounds
func (n *PriceNormalizer) Validate(price float64) error {
	d := decimal.NewFromFloat(price)
	if d.LessThan(n.min) || d.GreaterThan(n.max) {
		return &types.ValidationError{Value: d.String(), Reason: "outside price bounds"}
	}
	return nil
}

// PricesEqual compares two prices at cent precision
func PricesEqual(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}
