package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/edudata-io/sis-sync/internal/errors"
	"github.com/edudata-io/sis-sync/internal/models"
)

// ExchangeFunc performs a client-credentials token exchange for a tenant.
type ExchangeFunc func(ctx context.Context, tenant models.TenantConfig) (*oauth2.Token, error)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// CredentialCache caches bearer tokens per tenant. A token is never handed
// out within refreshBuffer of its expiry. Concurrent refreshes for the same
// tenant are allowed to race; the cache entry is replaced atomically and
// every caller uses the token its own call returned.
type CredentialCache struct {
	mu            sync.Mutex
	tokens        map[string]cachedToken
	refreshBuffer time.Duration
	exchange      ExchangeFunc
	now           func() time.Time
}

// CacheOption allows configuring the credential cache
type CacheOption func(*CredentialCache)

// WithExchange overrides the token exchange call, used in tests.
func WithExchange(fn ExchangeFunc) CacheOption {
	return func(c *CredentialCache) {
		c.exchange = fn
	}
}

// WithClock overrides the cache's clock, used in tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) {
		c.now = now
	}
}

// NewCredentialCache creates a new per-tenant token cache
func NewCredentialCache(refreshBuffer time.Duration, opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{
		tokens:        make(map[string]cachedToken),
		refreshBuffer: refreshBuffer,
		exchange:      exchangeClientCredentials,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a bearer token for the tenant, exchanging credentials when
// the cached token is absent, expiring, or forceRefresh is set. Exchange
// failure is fatal for the tenant's job and surfaces as an AuthError.
func (c *CredentialCache) Token(ctx context.Context, tenant models.TenantConfig, forceRefresh bool) (string, error) {
	key := tenant.CacheKey()

	if !forceRefresh {
		c.mu.Lock()
		cached, ok := c.tokens[key]
		c.mu.Unlock()
		if ok && c.now().Before(cached.expiresAt.Add(-c.refreshBuffer)) {
			return cached.token, nil
		}
	}

	tok, err := c.exchange(ctx, tenant)
	if err != nil {
		return "", errors.NewAuthError(tenant.Name, tenant.Source, err)
	}

	c.mu.Lock()
	c.tokens[key] = cachedToken{token: tok.AccessToken, expiresAt: tok.Expiry}
	c.mu.Unlock()

	return tok.AccessToken, nil
}

func exchangeClientCredentials(ctx context.Context, tenant models.TenantConfig) (*oauth2.Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     tenant.ClientID,
		ClientSecret: tenant.ClientSecret,
		TokenURL:     tenant.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cfg.Token(ctx)
}
