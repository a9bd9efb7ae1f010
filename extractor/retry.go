package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
	"price-tracker/utils"
)

// Retrier wraps adapter fetches with a bounded number of attempts and linear backoff.
// Callers only ever see a complete result or an error, never partial data.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	logger     logrus.FieldLogger
	sleep      utils.SleepFunc
}

// NewRetrier creates a retrier from the configured attempt bound and base delay
func NewRetrier(config *types.Config, logger logrus.FieldLogger) *Retrier {
	maxRetries := config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Retrier{
		maxRetries: maxRetries,
		baseDelay:  config.RetryBaseDelay,
		logger:     logger,
		sleep:      utils.Sleep,
	}
}

// FetchProduct fetches a product page until both name and price are extracted.
// An unparsable or out-of-range price is not retried.
func (r *Retrier) FetchProduct(ctx context.Context, adapter types.PlatformAdapter, productURL string) (*types.ExtractionResult, error) {
	log := r.logger.WithFields(logrus.Fields{
		"platform": string(adapter.Platform()),
		"url":      productURL,
	})

	return withRetry(ctx, r, log, func(ctx context.Context) (*types.ExtractionResult, error) {
		result, err := adapter.FetchProduct(ctx, productURL)
		if err != nil {
			return nil, err
		}
		if result.Complete() {
			return result, nil
		}
		if result.Price == nil && result.PriceText != "" {
			if _, err := adapter.ParsePrice(result.PriceText); err != nil {
				return nil, err
			}
		}
		field := "name"
		if result.Price == nil {
			field = "price"
		}
		return nil, &types.ExtractionError{URL: productURL, Field: field}
	})
}

// ListCategory fetches a category listing, retrying transport and blocked failures
func (r *Retrier) ListCategory(ctx context.Context, adapter types.PlatformAdapter, category types.Category) ([]types.CandidateListing, error) {
	log := r.logger.WithFields(logrus.Fields{
		"platform": string(adapter.Platform()),
		"category": category.Key,
		"url":      category.URL,
	})

	return withRetry(ctx, r, log, func(ctx context.Context) ([]types.CandidateListing, error) {
		return adapter.ListCategory(ctx, category)
	})
}

func withRetry[T any](ctx context.Context, r *Retrier, log logrus.FieldLogger, attempt func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i := 1; i <= r.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptLog := log.WithField("attempt", i)
		attemptLog.Debugf("Attempt %d/%d", i, r.maxRetries)

		value, err := attempt(ctx)
		if err == nil {
			attemptLog.Debug("Attempt succeeded")
			return value, nil
		}
		if isContextErr(err) {
			return zero, err
		}
		lastErr = err

		reason := types.Reason(err)
		if !types.Retryable(err) {
			attemptLog.WithField("reason", reason).Warnf("Attempt failed, not retrying: %v", err)
			return zero, err
		}

		switch reason {
		case "blocked":
			attemptLog.WithField("reason", reason).Warnf("Blocked page on attempt %d/%d", i, r.maxRetries)
		case "transport":
			attemptLog.WithField("reason", reason).Warnf("Transport failure on attempt %d/%d: %v", i, r.maxRetries, err)
		default:
			attemptLog.WithField("reason", reason).Infof("Attempt %d/%d failed: %v", i, r.maxRetries, err)
		}

		if i < r.maxRetries {
			delay := time.Duration(i) * r.baseDelay
			attemptLog.Debugf("Retrying in %v", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}

	log.WithField("reason", types.Reason(lastErr)).Errorf("Giving up after %d attempts", r.maxRetries)
	return zero, fmt.Errorf("%w after %d attempts: %w", types.ErrRetriesExhausted, r.maxRetries, lastErr)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
