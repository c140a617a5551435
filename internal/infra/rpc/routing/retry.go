package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFatal
)

func (a ErrorAction) String() string {
	if a == ActionFatal {
		return "fatal"
	}
	return "retry"
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry // Should not happen
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return ActionFatal
	}
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	// 4xx means the request itself is wrong, except rate limiting
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return ActionRetry
		}
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return ActionFatal
		}
		return ActionRetry
	}

	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32700, -32600, -32601, -32602:
			return ActionFatal
		}
		return ActionRetry
	}

	s := err.Error()
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	// Default to Retry (Network, 5xx, timeouts)
	return ActionRetry
}

// Do runs fn with exponential backoff until it succeeds, returns a fatal
// error, or MaxAttempts is reached.
func Do[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := max(config.MaxAttempts, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ClassifyError(err) == ActionFatal {
			return zero, err // Stop immediately, do not retry
		}
		if attempt == attempts-1 {
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiple := config.BackoffMultiple
	if multiple <= 0 {
		multiple = 2.0
	}
	delay := float64(config.InitialDelay) * math.Pow(multiple, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
