package errors

import (
	"errors"
	"fmt"
)

// AuthError represents a failed token exchange or refresh for a tenant.
// It is fatal for that tenant's job and is not retried beyond the shared
// retry policy.
type AuthError struct {
	Tenant string
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s (%s): %v", e.Tenant, e.Source, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError
func NewAuthError(tenant, source string, err error) error {
	return &AuthError{Tenant: tenant, Source: source, Err: err}
}

// UpstreamError represents a non-2xx response from an upstream API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream API error (status %d): %s", e.StatusCode, e.Body)
}

// NewUpstreamError creates a new UpstreamError, truncating oversized bodies.
func NewUpstreamError(statusCode int, body string) error {
	if len(body) > 1024 {
		body = body[:1024]
	}
	return &UpstreamError{StatusCode: statusCode, Body: body}
}

// TransientError represents a connection-level failure that is retried per
// the shared retry policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new TransientError
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// LoadError represents a sink batch failure. It aborts the whole load
// transaction and is fatal for the ingestion step that raised it.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("bulk load into %s failed: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new LoadError
func NewLoadError(table string, err error) error {
	return &LoadError{Table: table, Err: err}
}

// CancelledError marks a job that observed cooperative cancellation. It is
// distinct from a failure and propagates to the orchestrator's top level.
type CancelledError struct {
	Step string
}

func (e *CancelledError) Error() string {
	if e.Step == "" {
		return "sync cancelled"
	}
	return fmt.Sprintf("sync cancelled before step %s", e.Step)
}

// NewCancelledError creates a new CancelledError
func NewCancelledError(step string) error {
	return &CancelledError{Step: step}
}

// IsAuth checks if the error is an authentication error
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsUpstream checks if the error is an upstream API error
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsTransient checks if the error is a transient network error
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsCancelled checks if the error marks cooperative cancellation
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// UpstreamStatus returns the HTTP status carried by an UpstreamError, or 0.
func UpstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
