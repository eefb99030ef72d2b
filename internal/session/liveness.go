package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Liveness maps session id to the time of its last stored event. It is
// bounded: at capacity the least recently seen session is dropped.
type Liveness struct {
	mu       sync.Mutex
	seen     *simplelru.LRU[string, time.Time]
	now      func() time.Time
	onResize func(size int)
}

type Option func(*Liveness)

func WithClock(now func() time.Time) Option {
	return func(l *Liveness) { l.now = now }
}

// WithSizeObserver is called with the new size after every change.
func WithSizeObserver(fn func(size int)) Option {
	return func(l *Liveness) { l.onResize = fn }
}

func NewLiveness(maxEntries int, opts ...Option) (*Liveness, error) {
	seen, err := simplelru.NewLRU[string, time.Time](maxEntries, nil)
	if err != nil {
		return nil, err
	}

	l := &Liveness{
		seen: seen,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Touch records activity for id now. Safe for concurrent use.
func (l *Liveness) Touch(id string) {
	l.mu.Lock()
	l.seen.Add(id, l.now())
	size := l.seen.Len()
	l.mu.Unlock()

	l.observe(size)
}

func (l *Liveness) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.Len()
}

// Sweep evicts every entry last seen strictly before cutoff and returns how
// many were removed. Touch moves an entry to the back, so the oldest entries
// are always at the front and the walk stops at the first fresh one.
func (l *Liveness) Sweep(cutoff time.Time) int {
	l.mu.Lock()
	removed := 0
	for {
		_, seen, ok := l.seen.GetOldest()
		if !ok || !seen.Before(cutoff) {
			break
		}
		l.seen.RemoveOldest()
		removed++
	}
	size := l.seen.Len()
	l.mu.Unlock()

	if removed > 0 {
		l.observe(size)
	}
	return removed
}

func (l *Liveness) observe(size int) {
	if l.onResize != nil {
		l.onResize(size)
	}
}
