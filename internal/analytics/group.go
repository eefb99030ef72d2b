package analytics

import (
	"slices"

	"github.com/Wuchinator/streamin-analytics/internal/event"
)

// GroupBy folds every event into the accumulator of its key. Events for
// which key reports false are skipped.
func GroupBy[K comparable, A any](events []*event.Event, key func(*event.Event) (K, bool), fold func(acc *A, e *event.Event)) map[K]*A {
	groups := make(map[K]*A)
	for _, e := range events {
		k, ok := key(e)
		if !ok {
			continue
		}
		acc, found := groups[k]
		if !found {
			acc = new(A)
			groups[k] = acc
		}
		fold(acc, e)
	}
	return groups
}

func GroupCount[K comparable](events []*event.Event, key func(*event.Event) (K, bool)) map[K]int64 {
	groups := GroupBy(events, key, func(n *int64, _ *event.Event) { *n++ })

	counts := make(map[K]int64, len(groups))
	for k, n := range groups {
		counts[k] = *n
	}
	return counts
}

// TopN sorts a copy of items with cmp and keeps at most n of them.
// cmp must be a total order so that equal counts still sort the same way
// on every call.
func TopN[T any](items []T, n int, cmp func(a, b T) int) []T {
	sorted := append(make([]T, 0, len(items)), items...)
	slices.SortStableFunc(sorted, cmp)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
