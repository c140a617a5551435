package provider

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderStatus is the throttle-aware state of an endpoint.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota
	StatusDegraded                 // slow but answering
	StatusThrottled                // inside a 429 cooldown
	StatusBlocked                  // inside a 403 cooldown
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	}
	return "unknown"
}

const (
	latencyWindow    = 64
	minLatencySample = 10
	slowAfter        = 3 * time.Second
	blockCooldown    = 10 * time.Minute
	maxCooldown      = time.Minute
	baseCooldown     = 2 * time.Second
)

var throttleMessages = []string{
	"rate limit",
	"too many requests",
	"request count exceeded",
	"quota exceeded",
	"capacity exceeded",
}

// isThrottleMessage reports whether an error body reads like a rate limit.
func isThrottleMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range throttleMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Throttle tracks recent latency and rate-limit cooldowns for one endpoint.
type Throttle struct {
	mu  sync.Mutex
	now func() time.Time

	latencies [latencyWindow]time.Duration
	next      int
	filled    int

	limited int // consecutive 429s
	total   int
	blocked bool
	until   time.Time
}

func NewThrottle() *Throttle {
	return &Throttle{now: time.Now}
}

// Observe records a successful call and ends any 429 streak.
func (t *Throttle) Observe(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latencies[t.next] = latency
	t.next = (t.next + 1) % latencyWindow
	if t.filled < latencyWindow {
		t.filled++
	}
	t.limited = 0
}

// Limit starts a cooldown after a 429 or 403. A Retry-After header, in
// seconds or as an HTTP date, sets the cooldown; otherwise it doubles with
// each consecutive 429 up to a minute.
func (t *Throttle) Limit(statusCode int, retryAfter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.total++
	if statusCode == http.StatusForbidden {
		t.blocked = true
		t.until = now.Add(blockCooldown)
		return
	}

	t.limited++
	t.blocked = false
	wait := min(baseCooldown<<min(t.limited-1, 5), maxCooldown)
	if d, ok := parseRetryAfter(retryAfter, now); ok {
		wait = d
	}
	t.until = now.Add(wait)
}

// Status returns the current state.
func (t *Throttle) Status() ProviderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.now().Before(t.until) {
		if t.blocked {
			return StatusBlocked
		}
		return StatusThrottled
	}
	if t.filled >= minLatencySample && t.averageLocked() > slowAfter {
		return StatusDegraded
	}
	return StatusHealthy
}

// Remaining returns how long the current cooldown still lasts.
func (t *Throttle) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(t.until.Sub(t.now()), 0)
}

// AverageLatency is the mean of the recent latency window.
func (t *Throttle) AverageLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageLocked()
}

// Throttles counts every 429 and 403 seen.
func (t *Throttle) Throttles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Throttle) averageLocked() time.Duration {
	if t.filled == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range t.latencies[:t.filled] {
		total += d
	}
	return total / time.Duration(t.filled)
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}
