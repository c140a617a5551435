package provider

import (
	"net/http"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestThrottle() (*Throttle, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	th := NewThrottle()
	th.now = clock.now
	return th, clock
}

func TestThrottle_RetryAfterSeconds(t *testing.T) {
	th, clock := newTestThrottle()
	th.Limit(http.StatusTooManyRequests, "7")

	if th.Status() != StatusThrottled {
		t.Fatalf("expected throttled, got %v", th.Status())
	}
	if got := th.Remaining(); got != 7*time.Second {
		t.Errorf("expected 7s cooldown, got %v", got)
	}
	clock.advance(7 * time.Second)
	if th.Status() != StatusHealthy {
		t.Errorf("expected healthy after cooldown, got %v", th.Status())
	}
}

func TestThrottle_RetryAfterDate(t *testing.T) {
	th, clock := newTestThrottle()
	th.Limit(http.StatusTooManyRequests, clock.t.Add(30*time.Second).UTC().Format(http.TimeFormat))
	if got := th.Remaining(); got != 30*time.Second {
		t.Errorf("expected 30s cooldown, got %v", got)
	}
}

func TestThrottle_BackoffDoublesAndResets(t *testing.T) {
	th, _ := newTestThrottle()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, time.Minute, time.Minute}
	for i, w := range want {
		th.Limit(http.StatusTooManyRequests, "")
		if got := th.Remaining(); got != w {
			t.Errorf("429 #%d: expected %v, got %v", i+1, w, got)
		}
	}

	th.Observe(10 * time.Millisecond)
	th.Limit(http.StatusTooManyRequests, "")
	if got := th.Remaining(); got != 2*time.Second {
		t.Errorf("expected streak reset to 2s, got %v", got)
	}
	if th.Throttles() != len(want)+1 {
		t.Errorf("expected %d throttles, got %d", len(want)+1, th.Throttles())
	}
}

func TestThrottle_BlockedAfter403(t *testing.T) {
	th, clock := newTestThrottle()
	if th.Status() != StatusHealthy {
		t.Fatal("new throttle should be healthy")
	}
	th.Limit(http.StatusForbidden, "")
	if th.Status() != StatusBlocked {
		t.Errorf("expected blocked, got %v", th.Status())
	}
	clock.advance(blockCooldown)
	if th.Status() != StatusHealthy {
		t.Errorf("expected healthy after block cooldown, got %v", th.Status())
	}
}

func TestThrottle_DegradedWhenSlow(t *testing.T) {
	th, _ := newTestThrottle()
	for i := 0; i < minLatencySample-1; i++ {
		th.Observe(5 * time.Second)
	}
	if th.Status() != StatusHealthy {
		t.Error("too few samples to judge latency")
	}
	th.Observe(5 * time.Second)
	if th.Status() != StatusDegraded {
		t.Errorf("expected degraded, got %v", th.Status())
	}

	for i := 0; i < latencyWindow; i++ {
		th.Observe(100 * time.Millisecond)
	}
	if got := th.AverageLatency(); got != 100*time.Millisecond {
		t.Errorf("window should have rolled over, average %v", got)
	}
}

func TestIsThrottleMessage(t *testing.T) {
	if !isThrottleMessage("Daily request count exceeded, request rate limited") {
		t.Error("expected throttle message")
	}
	if isThrottleMessage("header not found") {
		t.Error("unexpected throttle match")
	}
}

func TestEndpoint_AvailabilityAfterFailures(t *testing.T) {
	e := NewEndpoint("chain")
	for i := 0; i < unavailableAfter-1; i++ {
		e.failure()
	}
	if !e.IsAvailable() {
		t.Fatal("should still be available")
	}
	e.failure()
	if e.IsAvailable() {
		t.Fatal("expected unavailable after a run of failures")
	}
	e.success(time.Millisecond)
	h := e.GetHealth()
	if !h.Available || h.ConsecutiveFailures != 0 {
		t.Errorf("success should restore availability: %+v", h)
	}
	if want := float64(unavailableAfter) / float64(unavailableAfter+1); h.ErrorRate != want {
		t.Errorf("expected error rate %v, got %v", want, h.ErrorRate)
	}
}
