// Package throttle implements byte-rate limiting for FTP command and data
// streams.
//
// A Throttle accounts bytes after they have been transferred and then makes
// the caller wait until the configured rate is respected again. Throttles
// are grouped into a Set (server-wide, per-connection, per-user ...) and a
// transfer is held back by the slowest member of its set.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits a stream to Limit bytes per second. A zero limit means
// unlimited.
type Throttle struct {
	mu      sync.Mutex
	limit   int64
	limiter *rate.Limiter
}

// New returns a throttle with the given limit in bytes per second.
func New(limit int64) *Throttle {
	t := &Throttle{}
	t.SetLimit(limit)
	return t
}

// Limit returns the current limit in bytes per second.
func (t *Throttle) Limit() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// SetLimit replaces the limit. Previously accounted bytes are forgotten.
func (t *Throttle) SetLimit(limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = limit
	if limit <= 0 {
		t.limiter = nil
		return
	}
	// One second worth of bytes may go out in a single burst.
	t.limiter = rate.NewLimiter(rate.Limit(limit), int(limit))
}

// Clone returns a throttle with the same limit and no accounted bytes.
func (t *Throttle) Clone() *Throttle {
	return New(t.Limit())
}

// Wait accounts n transferred bytes and blocks until the rate allows more.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	return sleep(ctx, t.reserve(time.Now(), n))
}

// reserve accounts n bytes at now and returns how long the caller has to
// hold back. Requests larger than the burst are split, each reservation
// already includes the delay of the ones before it.
func (t *Throttle) reserve(now time.Time, n int) time.Duration {
	t.mu.Lock()
	limiter := t.limiter
	t.mu.Unlock()
	if limiter == nil || n <= 0 {
		return 0
	}

	var delay time.Duration
	burst := limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		r := limiter.ReserveN(now, chunk)
		if r.OK() {
			delay = r.DelayFrom(now)
		}
		n -= chunk
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StreamThrottle pairs a read and a write throttle.
type StreamThrottle struct {
	Read  *Throttle
	Write *Throttle
}

// FromLimits builds a StreamThrottle from read and write limits in bytes per
// second.
func FromLimits(read, write int64) StreamThrottle {
	return StreamThrottle{Read: New(read), Write: New(write)}
}

// Clone clones both throttles without their accounted bytes.
func (s StreamThrottle) Clone() StreamThrottle {
	return StreamThrottle{Read: s.Read.Clone(), Write: s.Write.Clone()}
}
