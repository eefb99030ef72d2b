package analytics

import (
	"cmp"
	"testing"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/stretchr/testify/assert"
)

func TestGroupCountSkipsUnkeyed(t *testing.T) {
	events := []*event.Event{
		event.New("a", event.KindSearch, event.Payload{SearchQuery: "matrix"}, testNow),
		event.New("b", event.KindSearch, event.Payload{SearchQuery: "matrix"}, testNow),
		event.New("c", event.KindSearch, event.Payload{}, testNow),
	}

	got := GroupCount(events, func(e *event.Event) (string, bool) {
		return e.Payload.SearchQuery, e.Payload.SearchQuery != ""
	})
	assert.Equal(t, map[string]int64{"matrix": 2}, got)
}

func TestTopN(t *testing.T) {
	items := []int{3, 1, 2, 5, 4}

	assert.Equal(t, []int{5, 4, 3}, TopN(items, 3, func(a, b int) int { return cmp.Compare(b, a) }))
	assert.Equal(t, []int{3, 1, 2, 5, 4}, items, "input is left untouched")
	assert.Equal(t, []int{}, TopN([]int(nil), 3, cmp.Compare[int]))
}
