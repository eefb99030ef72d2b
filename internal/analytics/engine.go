package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	viewKinds     = []string{event.KindPageView, event.KindVideoStart, event.KindContentInteraction}
	realtimeKinds = []string{event.KindVideoStart, event.KindSearch, event.KindPageView}
)

// Engine answers dashboard queries straight from the event store. Nothing
// is cached; every call reads a fresh snapshot.
type Engine struct {
	store   event.Store
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Engine)

// WithLocation sets the zone whose midnight starts "today".
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store event.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		loc:   time.Local,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartOfDay returns local midnight of the day containing t.
func (e *Engine) StartOfDay(t time.Time) time.Time {
	local := t.In(e.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

func (e *Engine) Overview(ctx context.Context) (*Overview, error) {
	defer e.observe("overview", time.Now())

	today := e.StartOfDay(e.now())
	var o Overview

	g, ctx := errgroup.WithContext(ctx)
	count := func(dst *int64, f event.Filter) {
		g.Go(func() error {
			n, err := e.store.Count(ctx, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	distinct := func(dst *int64, f event.Filter) {
		g.Go(func() error {
			n, err := e.store.CountDistinctSessions(ctx, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	count(&o.TotalViews, event.Filter{Kinds: []string{event.KindPageView}})
	count(&o.TodayViews, event.Filter{Kinds: []string{event.KindPageView}, Since: today})
	count(&o.TotalSearches, event.Filter{Kinds: []string{event.KindSearch}})
	count(&o.TodaySearches, event.Filter{Kinds: []string{event.KindSearch}, Since: today})
	count(&o.TotalVideoStarts, event.Filter{Kinds: []string{event.KindVideoStart}})
	count(&o.TodayVideoStarts, event.Filter{Kinds: []string{event.KindVideoStart}, Since: today})
	distinct(&o.UniqueUsers, event.Filter{})
	distinct(&o.TodayUsers, event.Filter{Since: today})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute overview: %w", err)
	}
	return &o, nil
}

func (e *Engine) TopCountries(ctx context.Context, limit int) ([]CountryCount, error) {
	defer e.observe("top_countries", time.Now())

	counts, err := e.countryCounts(ctx, event.Filter{HasCountry: true})
	if err != nil {
		return nil, fmt.Errorf("failed to count events by country: %w", err)
	}

	rows := make([]CountryCount, 0, len(counts))
	for country, n := range counts {
		rows = append(rows, CountryCount{Country: country, Views: n})
	}

	return TopN(rows, limit, func(a, b CountryCount) int {
		if c := cmp.Compare(b.Views, a.Views); c != 0 {
			return c
		}
		return strings.Compare(a.Country, b.Country)
	}), nil
}

// countryCounts groups in the store when it can, in memory otherwise.
func (e *Engine) countryCounts(ctx context.Context, f event.Filter) (map[string]int64, error) {
	if gs, ok := e.store.(event.GroupingStore); ok {
		rows, err := gs.CountByCountry(ctx, f)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(rows))
		for _, r := range rows {
			if r.Country != "" {
				counts[r.Country] += r.Count
			}
		}
		return counts, nil
	}

	events, err := e.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return GroupCount(events, func(ev *event.Event) (string, bool) {
		return ev.Geo.Country, true
	}), nil
}

type contentKey struct {
	id, title, category string
}

func (e *Engine) PopularContent(ctx context.Context, limit int) ([]ContentStat, error) {
	defer e.observe("popular_content", time.Now())

	groups, err := e.contentGroups(ctx, event.Filter{
		HasFields: []event.Field{event.FieldContentID, event.FieldContentTitle},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count content events: %w", err)
	}

	rows := make([]ContentStat, 0, len(groups))
	for k, acc := range groups {
		rows = append(rows, ContentStat{
			ContentID:    k.id,
			ContentTitle: k.title,
			Category:     k.category,
			Views:        acc.Views,
			Searches:     acc.Searches,
		})
	}

	return TopN(rows, limit, func(a, b ContentStat) int {
		return cmp.Or(
			cmp.Compare(b.Views, a.Views),
			cmp.Compare(b.Searches, a.Searches),
			strings.Compare(a.ContentID, b.ContentID),
			strings.Compare(a.ContentTitle, b.ContentTitle),
			strings.Compare(a.Category, b.Category),
		)
	}), nil
}

func (e *Engine) contentGroups(ctx context.Context, f event.Filter) (map[contentKey]*ContentStat, error) {
	if gs, ok := e.store.(event.GroupingStore); ok {
		rows, err := gs.CountByContent(ctx, f)
		if err != nil {
			return nil, err
		}
		groups := make(map[contentKey]*ContentStat)
		for _, r := range rows {
			if r.ContentID == "" || r.ContentTitle == "" {
				continue
			}
			k := contentKey{id: r.ContentID, title: r.ContentTitle, category: r.Category}
			acc, found := groups[k]
			if !found {
				acc = &ContentStat{}
				groups[k] = acc
			}
			tally(acc, r.Kind, r.Count)
		}
		return groups, nil
	}

	events, err := e.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return GroupBy(events,
		func(ev *event.Event) (contentKey, bool) {
			return contentKey{
				id:       ev.Payload.ContentID,
				title:    ev.Payload.ContentTitle,
				category: ev.Payload.Category,
			}, true
		},
		func(acc *ContentStat, ev *event.Event) {
			tally(acc, ev.Kind, 1)
		},
	), nil
}

// tally adds n events of kind to acc. Kinds other than views and searches
// only make the title known.
func tally(acc *ContentStat, kind string, n int64) {
	switch {
	case isViewKind(kind):
		acc.Views += n
	case kind == event.KindSearch:
		acc.Searches += n
	}
}

// Realtime lists the latest watch, search and page activity of the last
// fifteen minutes. ActiveUsers counts sessions of any kind in that window.
func (e *Engine) Realtime(ctx context.Context) (*Realtime, error) {
	defer e.observe("realtime", time.Now())

	after := e.now().Add(-RealtimeWindow)

	var (
		recent []*event.Event
		active int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recent, err = e.store.Query(gctx, event.Filter{
			Kinds:       realtimeKinds,
			After:       after,
			NewestFirst: true,
			Limit:       RealtimeLimit,
		})
		return err
	})
	g.Go(func() error {
		var err error
		active, err = e.store.CountDistinctSessions(gctx, event.Filter{After: after})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute realtime activity: %w", err)
	}

	items := make([]ActivityItem, 0, len(recent))
	for _, ev := range recent {
		items = append(items, newActivityItem(ev))
	}

	return &Realtime{
		CurrentWatching: items,
		ActiveUsers:     active,
	}, nil
}

func (e *Engine) observe(name string, start time.Time) {
	e.metrics.ObserveQuery(name, time.Since(start))
}

func isViewKind(kind string) bool {
	return slices.Contains(viewKinds, kind)
}
