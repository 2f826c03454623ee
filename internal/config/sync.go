package config

import "time"

// SyncConfig holds orchestration configuration
type SyncConfig struct {
	ErrorSummaryLimit int
	ErrorMessageLimit int
	RefreshSteps      []string
	Upstream          UpstreamConfig
	Retry             RetryConfig
	Load              LoadConfig
}

// UpstreamConfig holds pagination and date-chunking configuration shared by
// both upstream sources
type UpstreamConfig struct {
	PageSize    int
	PageDelay   time.Duration
	MaxDateSpan int // days per date-bounded call
}

// RetryConfig holds HTTP retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RefreshBuffer  time.Duration
}

// LoadConfig holds bulk-load configuration
type LoadConfig struct {
	MaxStatementParams int
	ResolverChunkSize  int
}

// DefaultSyncConfig returns the default orchestration configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		ErrorSummaryLimit: 5,
		ErrorMessageLimit: 500,
		RefreshSteps: []string{
			"refresh_rosters",
			"refresh_attendance",
			"refresh_results",
			"refresh_dashboards",
		},
		Upstream: UpstreamConfig{
			PageSize:    100,
			PageDelay:   250 * time.Millisecond,
			MaxDateSpan: 31,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			RefreshBuffer:  time.Minute,
		},
		Load: LoadConfig{
			MaxStatementParams: 65535,
			ResolverChunkSize:  1000,
		},
	}
}
