package event

import (
	"context"
	"errors"
	"sync"
)

type stubEnricher struct {
	client ClientInfo
	geo    *Geo
}

func (s stubEnricher) ClientInfo(string) ClientInfo { return s.client }

func (s stubEnricher) Location(context.Context, string) *Geo { return s.geo }

type recordingSessions struct {
	mu      sync.Mutex
	touched []string
}

func (r *recordingSessions) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, id)
}

func (r *recordingSessions) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.touched...)
}

type stubPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *stubPublisher) SendMessage(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

var errStoreDown = errors.New("connection refused")

type failingStore struct{ *MemoryStore }

func (failingStore) Append(context.Context, *Event) (string, error) {
	return "", errors.Join(ErrPersistence, errStoreDown)
}
