// Package source provides the HTTP client for the external cloud
// cost API. The source is the pipeline's single unreliable external
// dependency: transient failures are retried with bounded exponential
// backoff, and only the retry budget exhausting is surfaced as fatal.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"cloudcost-etl/core/contract"
	"cloudcost-etl/internal/errors"
)

// CostsPath is the source endpoint serving cost line items
const CostsPath = "/v1/cloud-costs"

// Config holds source client configuration
type Config struct {
	// BaseURL is the base URL of the cost API
	BaseURL string

	// Timeout is the per-request timeout
	Timeout time.Duration

	// MaxRetries is how many times a failed fetch is retried
	MaxRetries uint64

	// InitialBackoff is the first retry delay
	InitialBackoff time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:5001",
		Timeout:        30 * time.Second,
		MaxRetries:     4,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Client fetches cost records from the source API
type Client struct {
	cfg  *Config
	http *http.Client
	log  *zap.Logger
}

// New creates a new source client
func New(cfg *Config, log *zap.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// FetchCosts retrieves all cost line items reported within the
// window. Connection failures and 5xx responses are retried; a 4xx
// response is a permanent error because retrying the same request
// would reproduce it.
func (c *Client) FetchCosts(ctx context.Context, win contract.Window) ([]contract.SourceRecord, error) {
	endpoint := c.cfg.BaseURL + CostsPath + "?" + url.Values{
		"start_date": {win.StartISO()},
		"end_date":   {win.EndISO()},
	}.Encode()

	var records []contract.SourceRecord
	attempt := 0

	operation := func() error {
		attempt++
		recs, err := c.fetchOnce(ctx, endpoint)
		if err != nil {
			c.log.Warn("source fetch failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		records = recs
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx))
	if err != nil {
		return nil, errors.Source("retry budget exhausted fetching cost records", err).
			WithContext("window", win.String()).
			WithContext("attempts", attempt)
	}

	c.log.Info("fetched cost records",
		zap.String("window", win.String()),
		zap.Int("records", len(records)))
	return records, nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([]contract.SourceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("source returned %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var records []contract.SourceRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
