package analytics

import (
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/event"
)

const (
	TopCountriesLimit   = 10
	PopularContentLimit = 20
	RealtimeLimit       = 50
	RealtimeWindow      = 15 * time.Minute
)

// Overview keeps lifetime and since-midnight counters side by side.
// All counters are zero when the store is empty.
type Overview struct {
	TotalViews       int64 `json:"totalViews"`
	TodayViews       int64 `json:"todayViews"`
	TotalSearches    int64 `json:"totalSearches"`
	TodaySearches    int64 `json:"todaySearches"`
	UniqueUsers      int64 `json:"uniqueUsers"`
	TodayUsers       int64 `json:"todayUsers"`
	TotalVideoStarts int64 `json:"totalVideoStarts"`
	TodayVideoStarts int64 `json:"todayVideoStarts"`
}

type CountryCount struct {
	Country string `json:"country"`
	Views   int64  `json:"views"`
}

type ContentStat struct {
	ContentID    string `json:"movieId"`
	ContentTitle string `json:"movieTitle"`
	Category     string `json:"category"`
	Views        int64  `json:"views"`
	Searches     int64  `json:"searches"`
}

type ActivityItem struct {
	Kind       string        `json:"event"`
	Payload    event.Payload `json:"data"`
	Geo        *event.Geo    `json:"location,omitempty"`
	RecordedAt time.Time     `json:"timestamp"`
}

type Realtime struct {
	CurrentWatching []ActivityItem `json:"currentWatching"`
	ActiveUsers     int64          `json:"activeUsers"`
}

func newActivityItem(e *event.Event) ActivityItem {
	return ActivityItem{
		Kind:       e.Kind,
		Payload:    e.Payload,
		Geo:        e.Geo,
		RecordedAt: e.RecordedAt,
	}
}
