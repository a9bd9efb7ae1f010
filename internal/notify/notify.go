// Package notify announces recorded price changes to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the pub/sub channel price changes are published on
const DefaultChannel = "price-tracker:price-changes"

// PriceChange is published once for every history row that was committed
type PriceChange struct {
	RunID      string    `json:"run_id"`
	ProductID  uint      `json:"product_id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	OldPrice   *float64  `json:"old_price"`
	NewPrice   float64   `json:"new_price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Publisher delivers price changes
type Publisher interface {
	Publish(ctx context.Context, change PriceChange) error
	Close() error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, PriceChange) error { return nil }
func (Nop) Close() error                               { return nil }

// RedisPublisher publishes price changes as JSON on a Redis channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  logrus.FieldLogger
}

// NewRedisPublisher wraps an existing client
func NewRedisPublisher(client *redis.Client, channel string, logger logrus.FieldLogger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Connect parses a redis:// URL, verifies the server answers and returns a publisher
func Connect(ctx context.Context, redisURL, channel string, logger logrus.FieldLogger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Infof("Connected to Redis, publishing price changes on %s", channelOrDefault(channel))
	return NewRedisPublisher(client, channel, logger), nil
}

// Publish sends one event
func (p *RedisPublisher) Publish(ctx context.Context, change PriceChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal price change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	p.logger.WithField("url", change.URL).Debugf("Published price change %v -> %.2f", formatPrice(change.OldPrice), change.NewPrice)
	return nil
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return DefaultChannel
	}
	return channel
}

func formatPrice(price *float64) string {
	if price == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *price)
}
