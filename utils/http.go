package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"price-tracker/internal/types"
)

const maxBodyBytes = 10 << 20

// Session owns one HTTP connection pool for a single adapter.
// It must be opened before the first request and closed when the adapter is done.
type Session struct {
	mu        sync.Mutex
	client    *http.Client
	transport *http.Transport
	config    *types.Config
	logger    logrus.FieldLogger
	limiter   *rate.Limiter
}

// NewSession creates a closed session that spaces requests at least delay apart
func NewSession(config *types.Config, delay time.Duration, logger logrus.FieldLogger) *Session {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Session{
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Open creates the connection pool. Opening an open session is a no-op.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	s.transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	s.client = &http.Client{
		Timeout:   s.config.Timeout,
		Transport: s.transport,
	}
	return nil
}

// IsOpen reports whether the session currently holds a connection pool
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Get performs one paced GET request. Non-200 responses and connection
// failures are returned as *types.TransportError together with the status.
func (s *Session) Get(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return 0, nil, types.ErrSessionClosed
	}

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	s.logger.WithField("url", url).Debug("Making request")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &types.TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return resp.StatusCode, nil, &types.TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &types.TransportError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	s.logger.WithField("url", url).Debugf("Successfully retrieved %d bytes", len(body))
	return resp.StatusCode, body, nil
}

// Close releases all pooled connections. Closing a closed session is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	s.client = nil
	s.transport = nil
}
