// Package remote implements pricing.Transport over the pricing service's
// batch HTTP endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"go.uber.org/zap"
)

// BatchPath is the batch lookup endpoint relative to Config.BaseURL
const BatchPath = "/v1/prices:batch"

// maxErrorBody caps how much of an error response ends up in the error
const maxErrorBody = 512

type batchRequest struct {
	Keys     []string `json:"keys"`
	Currency string   `json:"currency"`
}

// Client fetches price batches from the pricing service
type Client struct {
	logger   logger.Logger
	cfg      Config
	http     *http.Client
	batchURL string
}

var _ pricing.Transport = (*Client)(nil)

// NewClient creates a client. A nil httpClient uses a client with cfg.Timeout.
func NewClient(log logger.Logger, cfg *Config, httpClient *http.Client) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		merged := *cfg
		cfg = merged.MergeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		logger:   log,
		cfg:      *cfg,
		http:     httpClient,
		batchURL: strings.TrimRight(cfg.BaseURL, "/") + BatchPath,
	}, nil
}

// FetchBatch implements pricing.Transport. The partition is sent as the
// request currency.
func (c *Client) FetchBatch(ctx context.Context, keys []string, partition string) ([]pricing.Record, error) {
	body, err := json.Marshal(batchRequest{Keys: keys, Currency: partition})
	if err != nil {
		return nil, ErrRequest(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.batchURL, bytes.NewReader(body))
	if err != nil {
		return nil, ErrRequest(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrRequest(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ErrStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var records []pricing.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, ErrDecode(err)
	}

	c.logger.Debug("remote price batch fetched",
		zap.String("currency", partition),
		zap.Int("keys", len(keys)),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}
