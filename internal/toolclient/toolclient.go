// Package toolclient defines the boundary between the execution
// engine and the slow, unreliable external tools it orchestrates:
// HTML-scraped dictionary services, subprocess analyzers, and
// flat-file lexicons.
//
// Retry and backoff policy lives here, per tool, never in the engine.
package toolclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glossarium/glossarium/pkg/models"
	"github.com/rs/zerolog/log"
)

// ToolClient executes one fetch-stage call against an external tool.
// The engine is handed a map of tool name → client and never
// constructs clients itself.
type ToolClient interface {
	Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error)
}

// maxResponseBytes caps scraped bodies; dictionary pages past this
// size are truncated rather than rejected.
const maxResponseBytes = 4 << 20

// ── HTTP Scraper Client ──────────────────────────────────────

// ScraperClient fetches pages from an HTML-scraped dictionary service.
// Transient failures are retried with exponential backoff.
type ScraperClient struct {
	tool       string
	baseURL    string
	client     *http.Client
	maxRetries uint64
}

// NewScraperClient creates a client for one scraped service.
// endpoint values passed to Execute are resolved relative to baseURL.
func NewScraperClient(tool, baseURL string, timeout time.Duration) *ScraperClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScraperClient{
		tool:       tool,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Execute performs a GET with the call params as the query string and
// wraps the response in a RawResponseEffect.
func (c *ScraperClient) Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error) {
	target, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, v := range params {
		if k == models.SourceCallParam {
			continue
		}
		q.Set(k, v)
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	start := time.Now()

	var resp *http.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "glossarium/1.0")

		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		// Scraped services fall over under load; 5xx is worth a retry.
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return &retryableStatusError{status: resp.StatusCode}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("tool", c.tool).
			Str("call_id", callID).
			Dur("wait", wait).
			Msg("Scrape failed, retrying")
	}); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &models.RawResponseEffect{
		ResponseID:    models.NewResponseID(),
		Tool:          c.tool,
		CallID:        callID,
		Endpoint:      endpoint,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		Headers:       headers,
		Body:          body,
		ReceivedAt:    time.Now().UTC(),
		FetchDuration: time.Since(start).Milliseconds(),
	}, nil
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return "upstream returned status " + http.StatusText(e.status)
}
