// Package provider implements upstream HTTP endpoints.
//
// This package contains:
//   - Provider interface: health and lifecycle of an upstream endpoint
//   - HTTPProvider: JSON-RPC and plain JSON GET over HTTP
//   - Endpoint and Throttle: call accounting, latency and rate-limit cooldowns
package provider

import (
	"fmt"
	"time"
)

// Provider defines the core interface for an upstream endpoint.
type Provider interface {
	// GetName returns the feed name used in logs and metric labels
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Status returns the current throttle-aware status
	Status() ProviderStatus

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available           bool          `json:"available"`
	Status              string        `json:"status"`
	Latency             time.Duration `json:"latency"`
	ErrorRate           float64       `json:"error_rate"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Throttles           int           `json:"throttles"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastFailureAt       time.Time     `json:"last_failure_at"`
}

// StatusError is returned for a non-200 HTTP response.
type StatusError struct {
	StatusCode int
	RetryAfter string
	Body       string
}

func (e *StatusError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("http %d (retry after %s): %s", e.StatusCode, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
