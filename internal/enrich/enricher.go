package enrich

import (
	"context"

	"github.com/Wuchinator/streamin-analytics/internal/event"
)

// Enricher adapts user-agent classification and geo resolution to
// event.Enricher.
type Enricher struct {
	geo *GeoResolver
}

func NewEnricher(geo *GeoResolver) *Enricher {
	return &Enricher{geo: geo}
}

func (e *Enricher) ClientInfo(userAgent string) event.ClientInfo {
	return ClassifyUserAgent(userAgent)
}

func (e *Enricher) Location(ctx context.Context, ip string) *event.Geo {
	if e.geo == nil {
		return nil
	}
	return e.geo.Lookup(ctx, ip)
}
