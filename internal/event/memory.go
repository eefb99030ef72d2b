package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps events in process. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e.Clone())
	return e.ID, nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]*Event, error) {
	matched, err := s.scan(ctx, f)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if f.NewestFirst {
			return matched[i].RecordedAt.After(matched[j].RecordedAt)
		}
		return matched[i].RecordedAt.Before(matched[j].RecordedAt)
	})

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*Event, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, f Filter) (int64, error) {
	matched, err := s.scan(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (s *MemoryStore) CountDistinctSessions(ctx context.Context, f Filter) (int64, error) {
	matched, err := s.scan(ctx, f)
	if err != nil {
		return 0, err
	}

	sessions := make(map[string]struct{}, len(matched))
	for _, e := range matched {
		sessions[e.SessionID] = struct{}{}
	}
	return int64(len(sessions)), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) scan(ctx context.Context, f Filter) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Event
	for _, e := range s.events {
		if f.Match(e) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}
