package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestManualClock_StartsAtGivenTime(t *testing.T) {
	start := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	assert.Equal(t, start, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	got := clock.Advance(2 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(2*time.Second), got)
	assert.Equal(t, got, clock.Now())

	clock.Advance(4 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(6*time.Second), clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(time.Time{})
	target := DefaultEpoch.Add(time.Hour)
	clock.Set(target)
	assert.Equal(t, target, clock.Now())
}

func TestManualClock_DoesNotMoveOnItsOwn(t *testing.T) {
	clock := NewManualClock(time.Time{})
	first := clock.Now()
	time.Sleep(time.Millisecond)
	assert.Equal(t, first, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultEpoch.Add(numGoroutines*time.Second), clock.Now())
}
