// Package ratelimit caps the aggregate byte throughput of concurrent transfers.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// DefaultBurst is the largest amount admitted at once: one transfer chunk.
const DefaultBurst = 64 * 1024

// Limiter is a shared token bucket measured in bytes. Tokens refill
// continuously, so bursty readers are smoothed rather than admitted in steps.
// A limit of zero disables throttling.
type Limiter struct {
	bucket atomic.Pointer[rate.Limiter]
	limit  atomic.Int64
}

// New returns a Limiter capped at bytesPerSecond.
func New(bytesPerSecond int64) *Limiter {
	l := &Limiter{}
	l.Configure(bytesPerSecond)
	return l
}

// Configure installs a new cap. The bucket starts fresh, so debt accumulated
// under the previous configuration does not carry over.
func (l *Limiter) Configure(bytesPerSecond int64) {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	l.limit.Store(bytesPerSecond)

	if bytesPerSecond == 0 {
		l.bucket.Store(nil)
		return
	}

	l.bucket.Store(rate.NewLimiter(rate.Limit(bytesPerSecond), DefaultBurst))
}

// Limit returns the current cap in bytes per second (0 = unlimited).
func (l *Limiter) Limit() int64 {
	return l.limit.Load()
}

// Acquire blocks until n bytes of budget are available and deducts them.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	bucket := l.bucket.Load()
	if bucket == nil {
		return nil
	}

	burst := bucket.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := bucket.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
