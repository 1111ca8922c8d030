package featurekit

import (
	"context"
	"time"
)

const (
	basePollBackoff = 200 * time.Millisecond
	maxPollBackoff  = 30 * time.Second
)

// pollBackoff schedules datafile poll retries. The base delay doubles with
// each consecutive failed fetch and is capped at maxPollBackoff; up to one
// second of jitter is added on top of it. A successful fetch resets the
// failure count.
type pollBackoff struct {
	failures int
}

// fail records one more failed fetch and returns how long to hold off
// before the next attempt.
func (b *pollBackoff) fail() time.Duration {
	b.failures++
	delay := basePollBackoff
	for i := 1; i < b.failures && delay < maxPollBackoff; i++ {
		delay *= 2
	}
	if delay > maxPollBackoff {
		delay = maxPollBackoff
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(time.Second))
	return delay + jitter
}

func (b *pollBackoff) reset() {
	b.failures = 0
}

func (b *pollBackoff) consecutiveFailures() int {
	return b.failures
}

// sleep holds the poll loop for the given delay, or until ctx is done.
func (b *pollBackoff) sleep(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
