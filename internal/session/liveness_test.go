package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func lastSeen(l *Liveness, id string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.Peek(id)
}

func TestLivenessTouch(t *testing.T) {
	clock := newClock()
	l, err := NewLiveness(10, WithClock(clock.Now))
	require.NoError(t, err)

	l.Touch("a")
	clock.Advance(time.Minute)
	l.Touch("a")

	seen, ok := lastSeen(l, "a")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), seen)
	assert.Equal(t, 1, l.Len())

	_, ok = lastSeen(l, "missing")
	assert.False(t, ok)
}

func TestLivenessSweep(t *testing.T) {
	clock := newClock()
	l, err := NewLiveness(10, WithClock(clock.Now))
	require.NoError(t, err)

	l.Touch("stale")
	clock.Advance(25 * time.Minute)
	l.Touch("recent")
	clock.Advance(10 * time.Minute)

	removed := l.Sweep(clock.Now().Add(-30 * time.Minute))

	assert.Equal(t, 1, removed)
	_, ok := lastSeen(l, "stale")
	assert.False(t, ok)
	_, ok = lastSeen(l, "recent")
	assert.True(t, ok)
}

func TestLivenessSweepKeepsRefreshedEntries(t *testing.T) {
	clock := newClock()
	l, err := NewLiveness(10, WithClock(clock.Now))
	require.NoError(t, err)

	l.Touch("a")
	l.Touch("b")
	clock.Advance(40 * time.Minute)
	l.Touch("a")

	assert.Equal(t, 1, l.Sweep(clock.Now().Add(-30*time.Minute)))
	_, ok := lastSeen(l, "a")
	assert.True(t, ok)
}

func TestLivenessIsBounded(t *testing.T) {
	l, err := NewLiveness(3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		l.Touch(fmt.Sprintf("s%d", i))
	}

	assert.Equal(t, 3, l.Len())
	_, ok := lastSeen(l, "s0")
	assert.False(t, ok)
	_, ok = lastSeen(l, "s4")
	assert.True(t, ok)
}

func TestLivenessSizeObserver(t *testing.T) {
	var sizes []int
	l, err := NewLiveness(10, WithSizeObserver(func(n int) { sizes = append(sizes, n) }))
	require.NoError(t, err)

	l.Touch("a")
	l.Touch("b")
	l.Sweep(time.Now().Add(time.Hour))

	assert.Equal(t, []int{1, 2, 0}, sizes)
}

func TestLivenessConcurrentTouchAndSweep(t *testing.T) {
	l, err := NewLiveness(100000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				l.Touch(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			l.Sweep(time.Now().Add(-time.Hour))
		}
	}()
	wg.Wait()

	assert.Equal(t, 8*500, l.Len())
}

func TestNewLivenessRejectsZeroSize(t *testing.T) {
	_, err := NewLiveness(0)
	assert.Error(t, err)
}
