// Package rate paces iteration starts for arrival-rate executors.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out iteration start slots spaced evenly at a fixed rate.
//
// Slots are computed from an absolute schedule (first slot, then one every
// interval), so pacing does not drift with the caller's own latency. A caller
// that falls behind gets the missed slots back immediately, in order, until
// it has caught up. No slot is ever skipped.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	interval time.Duration
	next     time.Time
	started  bool
	mu       sync.Mutex

	slots    atomic.Int64
	late     atomic.Int64
	waitTime atomic.Int64
}

// NewLeakyBucket creates a bucket releasing rate slots per timeUnit.
// Non-positive values fall back to one slot per second.
func NewLeakyBucket(rate float64, timeUnit time.Duration) *LeakyBucket {
	if rate <= 0 {
		rate = 1
	}
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	interval := time.Duration(float64(timeUnit) / rate)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &LeakyBucket{interval: interval}
}

// Interval returns the spacing between consecutive slots.
func (lb *LeakyBucket) Interval() time.Duration {
	return lb.interval
}

// Next reserves the next slot and returns its start time. The first slot is
// immediate. A returned time in the past means the caller is late and should
// start right away.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	if !lb.started {
		lb.started = true
		lb.next = now
	}

	slot := lb.next
	lb.next = lb.next.Add(lb.interval)

	lb.slots.Add(1)
	if wait := slot.Sub(now); wait > 0 {
		lb.waitTime.Add(int64(wait))
	} else if wait < 0 {
		lb.late.Add(1)
	}
	return slot
}

// SleepUntil blocks until t. It returns ctx.Err() if ctx ends first, or
// straight away when t has already passed.
func SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
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

// Stats reports how the bucket has been used.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Interval:  lb.interval,
		Slots:     lb.slots.Load(),
		Late:      lb.late.Load(),
		TotalWait: time.Duration(lb.waitTime.Load()),
	}
}

// Stats contains LeakyBucket counters.
type Stats struct {
	Interval  time.Duration `json:"interval"`
	Slots     int64         `json:"slots"`
	Late      int64         `json:"late"`
	TotalWait time.Duration `json:"totalWait"`
}
