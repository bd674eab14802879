package throttle

import "time"

// Throttler allows at most one send per interval. Positions arriving in between
// are not queued; the caller just drops them.
// Not safe for concurrent use: a single reporter owns it.
type Throttler struct {
	minInterval time.Duration
	lastSentAt  time.Time
}

func New(minInterval time.Duration) *Throttler {
	return &Throttler{minInterval: minInterval}
}

func (t *Throttler) ShouldSend(now time.Time) bool {
	if t.lastSentAt.IsZero() {
		return true
	}
	return now.Sub(t.lastSentAt) > t.minInterval
}

func (t *Throttler) MarkSent(now time.Time) {
	t.lastSentAt = now
}
