package provider

import (
	"sync"
	"time"
)

// unavailableAfter is how many failures in a row mark an endpoint unavailable.
const unavailableAfter = 5

// Endpoint keeps call accounting shared by every provider kind.
type Endpoint struct {
	name     string
	throttle *Throttle

	mu          sync.RWMutex
	calls       int
	failures    int
	consecutive int
	lastSuccess time.Time
	lastFailure time.Time
}

func NewEndpoint(name string) *Endpoint {
	return &Endpoint{name: name, throttle: NewThrottle()}
}

func (e *Endpoint) GetName() string {
	return e.name
}

// Status returns the throttle-aware status.
func (e *Endpoint) Status() ProviderStatus {
	return e.throttle.Status()
}

// IsAvailable is false inside a cooldown or after a run of failures.
func (e *Endpoint) IsAvailable() bool {
	switch e.throttle.Status() {
	case StatusThrottled, StatusBlocked:
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consecutive < unavailableAfter
}

func (e *Endpoint) GetHealth() HealthStatus {
	status := e.throttle.Status()

	e.mu.RLock()
	defer e.mu.RUnlock()
	h := HealthStatus{
		Available:           e.consecutive < unavailableAfter && status != StatusThrottled && status != StatusBlocked,
		Status:              status.String(),
		Latency:             e.throttle.AverageLatency(),
		ConsecutiveFailures: e.consecutive,
		Throttles:           e.throttle.Throttles(),
		RetryAfter:          e.throttle.Remaining(),
		LastSuccessAt:       e.lastSuccess,
		LastFailureAt:       e.lastFailure,
	}
	if e.calls > 0 {
		h.ErrorRate = float64(e.failures) / float64(e.calls)
	}
	return h
}

func (e *Endpoint) success(latency time.Duration) {
	e.throttle.Observe(latency)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.consecutive = 0
	e.lastSuccess = e.throttle.now()
}

func (e *Endpoint) failure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.failures++
	e.consecutive++
	e.lastFailure = e.throttle.now()
}
