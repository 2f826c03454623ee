package models

// Upstream source identifiers. Each tenant config is bound to exactly one.
const (
	SourceSomtoday = "somtoday"
	SourceMagister = "magister"
)

// TenantConfig identifies one school for one upstream source. It holds the
// connection coordinates and credential material for that school's API
// account and is immutable for the duration of a run.
type TenantConfig struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Source           string `json:"source"`
	BaseURL          string `json:"base_url"`
	TokenURL         string `json:"token_url"`
	ClientID         string `json:"-"`
	ClientSecret     string `json:"-"`
	ExternalSchoolID string `json:"external_school_id"`
	Active           bool   `json:"active"`
}

// CacheKey returns the key under which this tenant's token is cached.
// Tokens are cached per tenant+source, never globally.
func (t TenantConfig) CacheKey() string {
	return t.Source + "/" + t.ClientID
}
