package analytics

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the default number of analytics queries in flight.
const DefaultMaxConcurrent = 3

// Limiter bounds the number of concurrent analytics queries. Waiters are
// admitted in the order they called Acquire, and a waiter whose context ends
// leaves the queue without consuming a slot.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
}

// NewLimiter creates a limiter with capacity slots. Capacities below 1 use
// DefaultMaxConcurrent.
func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = DefaultMaxConcurrent
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. Every successful
// Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// Release frees a slot, handing it to the oldest waiter if there is one.
// It panics if called more times than Acquire succeeded.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}

// Capacity returns the maximum number of concurrent holders.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}
