// Package delivery sends drained payloads to the ingestion endpoint with
// bounded retry and error classification.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/stats"
)

const maxResponseBody = 64 << 10

// Config configures the delivery client.
type Config struct {
	URL        string
	Timeout    time.Duration // per attempt
	MaxRetries int           // attempts = MaxRetries + 1
	Backoff    time.Duration // fixed sleep between attempts
	HTTPClient *http.Client
}

// Client delivers payloads. It is safe for concurrent use although the flush
// scheduler only ever calls it from one goroutine.
type Client struct {
	cfg     Config
	http    *http.Client
	stats   *stats.Stats
	metrics *metrics.Metrics
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a delivery client. m may be nil.
func New(cfg Config, s *stats.Stats, m *metrics.Metrics) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("delivery url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		stats:   s,
		metrics: m,
		logger:  logging.WithComponent("delivery"),
		sleep:   sleepContext,
	}, nil
}

// Send delivers payload, retrying transient failures. It returns true once the
// server acknowledged the payload. The payload is resent verbatim on retry.
func (c *Client) Send(ctx context.Context, payload models.OutboundPayload) bool {
	if strings.TrimSpace(payload.Text) == "" {
		return false
	}

	start := time.Now()
	chars := utf8.RuneCountInString(payload.Text)
	ok := c.send(ctx, payload, chars)
	if c.metrics != nil {
		c.metrics.RecordDelivery(ok, chars, time.Since(start).Seconds())
	}
	return ok
}

func (c *Client) send(ctx context.Context, payload models.OutboundPayload, chars int) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode payload")
		c.stats.RecordFailure()
		return false
	}

	requestID := uuid.NewString()
	maxAttempts := c.cfg.MaxRetries + 1
	logger := c.logger.With().
		Str("requestId", requestID).
		Int("chars", chars).
		Int("maxAttempts", maxAttempts).
		Logger()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ack, err := c.attempt(ctx, body, requestID)
		outcome := Classify(err)
		if c.metrics != nil {
			c.metrics.RecordAttempt(outcome.String())
		}

		switch outcome {
		case OutcomeSuccess:
			c.stats.RecordSuccess(chars)
			logger.Info().
				Int("attempt", attempt).
				Int64("messageId", ack.MessageID).
				Msg("Payload delivered")
			return true

		case OutcomeTerminal:
			c.stats.RecordFailure()
			logger.Error().
				Err(err).
				Int("attempt", attempt).
				Str("reason", failureKind(err)).
				Msg("Delivery failed, not retrying")
			return false

		case OutcomeTransient:
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("reason", failureKind(err)).
				Msg("Delivery attempt failed")
			if attempt < maxAttempts {
				if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
					logger.Warn().Err(err).Msg("Retry backoff interrupted")
					c.stats.RecordFailure()
					return false
				}
			}
		}
	}

	c.stats.RecordFailure()
	logger.Error().Msg("Delivery failed, all retries exhausted")
	return false
}

// attempt performs one POST bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, body []byte, requestID string) (models.IngestResponse, error) {
	var ack models.IngestResponse

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return ack, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return ack, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ack, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	// The acknowledgment body is informational; a 2xx is a delivery.
	if readErr != nil {
		c.logger.Debug().Err(readErr).Int("status", resp.StatusCode).Msg("Failed to read acknowledgment body")
		return ack, nil
	}
	if err := json.Unmarshal(respBody, &ack); err != nil {
		c.logger.Debug().Err(err).Msg("Unparseable acknowledgment body")
	}
	return ack, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
