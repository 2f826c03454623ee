package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/config"
	"github.com/edudata-io/sis-sync/internal/errors"
	"github.com/edudata-io/sis-sync/internal/metrics"
	"github.com/edudata-io/sis-sync/internal/models"
)

// outcome classifies one HTTP attempt so the retry loop never has to infer
// retry-ability from error identity.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeFatal
)

// Client wraps upstream API calls with bounded retries, exponential backoff,
// and automatic re-authentication on 401 responses.
type Client struct {
	http   *http.Client
	creds  *CredentialCache
	logger *logrus.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// ClientOption allows configuring the upstream client
type ClientOption func(*Client)

// WithRetryConfig configures retry behavior
func WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initialBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithHTTPClient overrides the underlying HTTP client, used in tests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a new upstream client with the given credential cache
func NewClient(creds *CredentialCache, cfg config.RetryConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	client := &Client{
		http:           &http.Client{Timeout: 120 * time.Second},
		creds:          creds,
		logger:         logger,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GetJSON issues an authenticated GET against the tenant's API base URL and
// decodes the response body into result.
func (c *Client) GetJSON(ctx context.Context, tenant models.TenantConfig, path string, query url.Values, result interface{}) error {
	body, err := c.get(ctx, tenant, path, query)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetRaw issues an authenticated GET and returns the raw response body.
// Used for the tabular export endpoints whose responses are not JSON.
func (c *Client) GetRaw(ctx context.Context, tenant models.TenantConfig, path string, query url.Values) ([]byte, error) {
	return c.get(ctx, tenant, path, query)
}

func (c *Client) get(ctx context.Context, tenant models.TenantConfig, path string, query url.Values) ([]byte, error) {
	fullURL := tenant.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	backoff := c.initialBackoff
	refreshed := false

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		token, err := c.creds.Token(ctx, tenant, false)
		if err != nil {
			return nil, err
		}

		body, status, err := c.attempt(ctx, fullURL, token)
		switch classify(status, err) {
		case outcomeOK:
			return body, nil

		case outcomeRetryable:
			if err != nil {
				lastErr = errors.NewTransientError(err)
			} else {
				lastErr = errors.NewUpstreamError(status, string(body))
			}
			metrics.UpstreamRetries.WithLabelValues(tenant.Source).Inc()
			c.logger.WithFields(logrus.Fields{
				"school":  tenant.Name,
				"source":  tenant.Source,
				"url":     fullURL,
				"attempt": attempt + 1,
			}).WithError(lastErr).Warn("Upstream request failed, will retry")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.maxBackoff)))

		case outcomeFatal:
			if status != http.StatusUnauthorized {
				return nil, errors.NewUpstreamError(status, string(body))
			}
			// One forced token refresh and immediate retry per call; this
			// extra attempt does not count against the retry budget.
			if refreshed {
				return nil, errors.NewUpstreamError(status, string(body))
			}
			refreshed = true
			token, err = c.creds.Token(ctx, tenant, true)
			if err != nil {
				return nil, err
			}
			c.logger.WithFields(logrus.Fields{
				"school": tenant.Name,
				"source": tenant.Source,
			}).Info("Refreshed token after 401, retrying request")
			body, status, err = c.attempt(ctx, fullURL, token)
			if classify(status, err) == outcomeOK {
				return body, nil
			}
			if err != nil {
				lastErr = errors.NewTransientError(err)
			} else {
				lastErr = errors.NewUpstreamError(status, string(body))
			}

			// The failed retry re-enters the budgeted loop, so it waits
			// like every other retryable outcome.
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.maxBackoff)))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// attempt performs a single HTTP round trip. A non-nil error means the call
// never produced a response; status is 0 in that case.
func (c *Client) attempt(ctx context.Context, fullURL, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeRetryable
	case status >= 200 && status < 300:
		return outcomeOK
	case status == http.StatusUnauthorized:
		// Handled by the forced-refresh path, not the retry budget.
		return outcomeFatal
	default:
		return outcomeRetryable
	}
}
