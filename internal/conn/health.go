package conn

import "time"

// Health is the derived online/offline view of the connection. It exists
// so callers can decide whether dialing is worth a network round-trip at
// all; it is never persisted.
type Health struct {
	Online              bool
	ConsecutiveFailures int
	NextAttemptAt       time.Time
}

// ShouldAttempt reports whether a connect attempt is worthwhile at the
// given time. While offline, attempts are gated by a backoff window that
// grows with consecutive failures.
func (h Health) ShouldAttempt(now time.Time) bool {
	if h.ConsecutiveFailures == 0 {
		return true
	}
	return !now.Before(h.NextAttemptAt)
}

func (h *Health) recordSuccess() {
	h.Online = true
	h.ConsecutiveFailures = 0
	h.NextAttemptAt = time.Time{}
}

func (h *Health) recordFailure(now time.Time, initial, ceiling time.Duration) {
	h.Online = false
	h.ConsecutiveFailures++

	backoff := initial
	for i := 1; i < h.ConsecutiveFailures; i++ {
		backoff *= 2
		if backoff >= ceiling {
			backoff = ceiling
			break
		}
	}
	h.NextAttemptAt = now.Add(backoff)
}
