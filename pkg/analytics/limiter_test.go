package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrent, NewLimiter(0).Capacity())
	assert.Equal(t, 5, NewLimiter(5).Capacity())
}

func TestLimiter_NeverExceedsCapacity(t *testing.T) {
	l := NewLimiter(3)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, l.InUse())
}

func TestLimiter_ExcessCallersWaitForRelease(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, l.InUse())

	l.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	assert.Equal(t, 1, l.InUse())
	l.Release()
	assert.Equal(t, 0, l.InUse())
}

func TestLimiter_FIFO(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = l.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}(i)
		// Let waiter i enqueue before starting waiter i+1.
		time.Sleep(20 * time.Millisecond)
	}

	l.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.InUse())

	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}

func TestLimiter_DoReleasesOnError(t *testing.T) {
	l := NewLimiter(1)
	boom := errors.New("boom")

	err := l.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Do(ctx, func(ctx context.Context) error { return nil }))
}

func TestLimiter_DoReleasesOnPanic(t *testing.T) {
	l := NewLimiter(1)

	assert.Panics(t, func() {
		_ = l.Do(context.Background(), func(ctx context.Context) error { panic("boom") })
	})
	assert.Equal(t, 0, l.InUse())
}
