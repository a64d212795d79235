// Package oracle is the client for the external prediction-market service.
// It owns all timeout, retry, and backoff policy and normalizes the two
// upstream schemas (Gamma discovery and CLOB order book) into one canonical
// market shape. Errors from this package always mean "resolution unknown,
// try again later" and must never be read as a settled outcome.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/moltmarket/bench-engine/internal/metrics"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Retry policy: per-attempt timeout with bounded exponential backoff.
	// Worst-case logical latency is attemptTimeout*(maxRetries+1) plus sleeps.
	attemptTimeout = 12 * time.Second
	maxRetries     = 2
	baseBackoff    = 500 * time.Millisecond

	// Upstream rate limits, held below the documented caps.
	gammaRatePerSec = 18
	clobRatePerSec  = 30
)

// errPermanent marks a 4xx response: surfaced immediately, never retried.
var errPermanent = errors.New("permanent upstream error")

// ErrMarketNotFound is returned when neither upstream sub-API knows the
// condition id.
var ErrMarketNotFound = errors.New("oracle: market not found")

// Client talks to the upstream market service with rate limiting and retries.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
}

// NewClient creates a Client against the given base URLs. Empty bases fall
// back to the production endpoints.
func NewClient(clobBase, gammaBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	return &Client{
		http:         &http.Client{Timeout: attemptTimeout},
		clobBase:     clobBase,
		gammaBase:    gammaBase,
		clobLimiter:  rate.NewLimiter(clobRatePerSec, 10),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
	}
}

func (c *Client) getGamma(ctx context.Context, url string, out any) error {
	return c.do(ctx, c.gammaLimiter, "gamma", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

func (c *Client) getCLOB(ctx context.Context, url string, out any) error {
	return c.do(ctx, c.clobLimiter, "clob", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

func (c *Client) postCLOB(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.do(ctx, c.clobLimiter, "clob", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// do runs one request under the retry policy: 4xx surfaces immediately,
// 5xx and transport errors are retried with doubling backoff until the
// retry budget is spent, then the last error is surfaced.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, api string, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.OracleRetries.Inc()
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		start := time.Now()
		resp, err := fn()
		metrics.OracleLatency.WithLabelValues(api).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.OracleRequestsTotal.WithLabelValues(api, "error").Inc()
			lastErr = err
			continue
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			metrics.OracleRequestsTotal.WithLabelValues(api, "client_error").Inc()
			return fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, string(body))
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			metrics.OracleRequestsTotal.WithLabelValues(api, "server_error").Inc()
			slog.Warn("oracle server error", "api", api, "status", resp.StatusCode, "attempt", attempt+1)
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			metrics.OracleRequestsTotal.WithLabelValues(api, "decode_error").Inc()
			return fmt.Errorf("decode response: %w", err)
		}
		metrics.OracleRequestsTotal.WithLabelValues(api, "ok").Inc()
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// sleep waits out the backoff for the given completed attempt, respecting
// context cancellation.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := baseBackoff << attempt
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPermanent reports whether err is a non-retryable upstream rejection.
func IsPermanent(err error) bool {
	return errors.Is(err, errPermanent)
}
