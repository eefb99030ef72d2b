package event

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Filter is the predicate and time window of a store read.
// Zero values mean "no constraint".
type Filter struct {
	Kinds []string

	Since  time.Time // recordedAt >= Since
	After  time.Time // recordedAt >  After
	Before time.Time // recordedAt <  Before

	// HasFields requires every listed payload field to be non-empty.
	HasFields  []Field
	HasCountry bool

	NewestFirst bool
	Limit       int
}

func (f Filter) Validate() error {
	for _, field := range f.HasFields {
		if !field.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidField, field)
		}
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", f.Limit)
	}
	return nil
}

// Match evaluates the filter against a single event in memory.
func (f Filter) Match(e *Event) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.After.IsZero() && !e.RecordedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.RecordedAt.Before(f.Before) {
		return false
	}
	for _, field := range f.HasFields {
		if e.Payload.Get(field) == "" {
			return false
		}
	}
	if f.HasCountry && (e.Geo == nil || e.Geo.Country == "") {
		return false
	}
	return true
}

// Store is the durable, append-only event log. Events are never updated
// or deleted through it.
type Store interface {
	Append(ctx context.Context, e *Event) (string, error)
	Query(ctx context.Context, f Filter) ([]*Event, error)
	Count(ctx context.Context, f Filter) (int64, error)
	CountDistinctSessions(ctx context.Context, f Filter) (int64, error)
	Ping(ctx context.Context) error
}


// CountryCount is the number of events located in one country.
type CountryCount struct {
	Country string `db:"country"`
	Count   int64  `db:"n"`
}

// ContentCount is the number of events of one kind about one title.
type ContentCount struct {
	ContentID    string `db:"content_id"`
	ContentTitle string `db:"content_title"`
	Category     string `db:"category"`
	Kind         string `db:"event_kind"`
	Count        int64  `db:"n"`
}

// GroupingStore is implemented by stores that can group in the database.
// Readers that get a plain Store group the result of Query themselves.
type GroupingStore interface {
	CountByCountry(ctx context.Context, f Filter) ([]CountryCount, error)
	CountByContent(ctx context.Context, f Filter) ([]ContentCount, error)
}
