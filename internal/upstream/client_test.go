package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/edudata-io/sis-sync/internal/config"
	apperrors "github.com/edudata-io/sis-sync/internal/errors"
	"github.com/edudata-io/sis-sync/internal/models"
)

const testMaxRetries = 3

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:     testMaxRetries,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RefreshBuffer:  testRefreshBuffer,
	}
}

// staticExchange returns a fresh token per exchange so tests can observe
// forced refreshes through the Authorization header.
func staticExchange(counter *atomic.Int32) ExchangeFunc {
	return func(ctx context.Context, tenant models.TenantConfig) (*oauth2.Token, error) {
		n := counter.Add(1)
		tok := "token-1"
		if n > 1 {
			tok = "token-2"
		}
		return &oauth2.Token{AccessToken: tok, Expiry: time.Now().Add(time.Hour)}, nil
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server, *atomic.Int32) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var exchanges atomic.Int32
	creds := NewCredentialCache(testRefreshBuffer, WithExchange(staticExchange(&exchanges)))
	client := NewClient(creds, testRetryConfig(), testLogger())
	return client, server, &exchanges
}

func TestClientGetJSON(t *testing.T) {
	t.Run("retries transient errors then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		client, server, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		var result map[string]bool
		err := client.GetJSON(context.Background(), tenant, "/things", nil, &result)
		require.NoError(t, err)
		assert.True(t, result["ok"])
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("retry budget exhausted", func(t *testing.T) {
		var calls atomic.Int32
		client, server, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		err := client.GetJSON(context.Background(), tenant, "/things", nil, nil)
		require.Error(t, err)
		assert.Equal(t, int32(testMaxRetries), calls.Load())
		assert.Equal(t, http.StatusServiceUnavailable, apperrors.UpstreamStatus(err))
	})

	t.Run("401 triggers one forced refresh", func(t *testing.T) {
		var calls atomic.Int32
		client, server, exchanges := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") == "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{}`))
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		err := client.GetJSON(context.Background(), tenant, "/things", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, int32(2), exchanges.Load())
	})

	t.Run("repeated 401 fails without burning the budget", func(t *testing.T) {
		var calls atomic.Int32
		client, server, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		err := client.GetJSON(context.Background(), tenant, "/things", nil, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, apperrors.UpstreamStatus(err))
	})

	t.Run("failed refresh retry backs off before the next attempt", func(t *testing.T) {
		const slowBackoff = 40 * time.Millisecond

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") == "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(server.Close)

		var exchanges atomic.Int32
		creds := NewCredentialCache(testRefreshBuffer, WithExchange(staticExchange(&exchanges)))
		client := NewClient(creds, config.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: slowBackoff,
			MaxBackoff:     slowBackoff,
		}, testLogger())

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		started := time.Now()
		err := client.GetJSON(context.Background(), tenant, "/things", nil, nil)
		require.Error(t, err)

		// 401, refreshed retry (503), backoff, second budgeted attempt (503).
		assert.Equal(t, int32(3), calls.Load())
		assert.GreaterOrEqual(t, time.Since(started), slowBackoff)
	})

	t.Run("malformed body is not retried as upstream failure", func(t *testing.T) {
		var calls atomic.Int32
		client, server, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{not json`))
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		var result map[string]interface{}
		err := client.GetJSON(context.Background(), tenant, "/things", nil, &result)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("query parameters are forwarded", func(t *testing.T) {
		var gotOffset string
		client, server, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotOffset = r.URL.Query().Get("offset")
			w.Write([]byte(`[]`))
		}))

		tenant := testTenant("alpha")
		tenant.BaseURL = server.URL

		query := map[string][]string{"offset": {"200"}}
		err := client.GetJSON(context.Background(), tenant, "/things", query, nil)
		require.NoError(t, err)
		assert.Equal(t, "200", gotOffset)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   outcome
	}{
		{"transport error", 0, io.ErrUnexpectedEOF, outcomeRetryable},
		{"200", http.StatusOK, nil, outcomeOK},
		{"204", http.StatusNoContent, nil, outcomeOK},
		{"401", http.StatusUnauthorized, nil, outcomeFatal},
		{"404", http.StatusNotFound, nil, outcomeRetryable},
		{"429", http.StatusTooManyRequests, nil, outcomeRetryable},
		{"500", http.StatusInternalServerError, nil, outcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.status, tt.err))
		})
	}
}
