// Package memorybank posts session records to the external memory/audit
// service. Delivery is best-effort with bounded retries; a failed post is
// logged and never propagates into the fix pipeline.
package memorybank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/config"
)

// Client implements schemas.RecordSink over a simple JSON request/response
// call.
type Client struct {
	logger     *zap.Logger
	cfg        config.MemoryBankConfig
	httpClient *http.Client
}

var _ schemas.RecordSink = (*Client)(nil)

// New returns a sink for the configured endpoint. An empty endpoint yields a
// client whose SaveRecord is a logged no-op, so callers never need to
// nil-check their sink.
func New(logger *zap.Logger, cfg config.MemoryBankConfig) *Client {
	return &Client{
		logger:     logger.Named("memorybank"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SaveRecord posts rec with exponential backoff. Errors are returned for
// observability but callers are expected to treat them as non-fatal.
func (c *Client) SaveRecord(ctx context.Context, rec schemas.Record) error {
	if c.cfg.Endpoint == "" {
		c.logger.Debug("No memory bank endpoint configured, dropping record",
			zap.String("type", string(rec.Metadata.Type)))
		return nil
	}
	if rec.UserID == "" {
		rec.UserID = c.cfg.UserID
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("memory service returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors will not succeed on retry.
			return backoff.Permanent(fmt.Errorf("memory service rejected record: %d", resp.StatusCode))
		}
		return nil
	}

	// A negative value would wrap to a near-infinite retry count once
	// converted to uint64, so clamp it to "no retries".
	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Warn("Failed to post record to memory service",
			zap.String("type", string(rec.Metadata.Type)),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("Record posted", zap.String("type", string(rec.Metadata.Type)))
	return nil
}
