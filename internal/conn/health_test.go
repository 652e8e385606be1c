package conn

import (
	"testing"
	"time"
)

func TestHealthBackoffGrowsToCeiling(t *testing.T) {
	var h Health
	now := time.Unix(1000, 0)
	initial := time.Second
	ceiling := 4 * time.Second

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second, // capped
	}
	for i, want := range expected {
		h.recordFailure(now, initial, ceiling)
		got := h.NextAttemptAt.Sub(now)
		if got != want {
			t.Fatalf("failure %d: expected backoff %v, got %v", i+1, want, got)
		}
		if h.ShouldAttempt(now) {
			t.Fatalf("failure %d: expected attempt gated inside window", i+1)
		}
		if !h.ShouldAttempt(now.Add(want)) {
			t.Fatalf("failure %d: expected attempt allowed at window edge", i+1)
		}
	}

	h.recordSuccess()
	if !h.Online || h.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset health, got %+v", h)
	}
	if !h.ShouldAttempt(now) {
		t.Fatal("expected attempts always allowed when healthy")
	}
}
