package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

var (
	// ErrGeoNotFound means the provider answered but knows nothing about the
	// address. It is cached; other provider errors are not.
	ErrGeoNotFound = errors.New("no geo data for address")

	ErrProviderRateLimited = errors.New("geo provider rate limit exceeded")
)

const defaultLookupTimeout = 2 * time.Second

// GeoProvider resolves a public IP address to a location.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (*event.Geo, error)
	Name() string
}

type GeoResolver struct {
	providers []GeoProvider
	cache     *expirable.LRU[string, *event.Geo]
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewGeoResolver(providers []GeoProvider, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics, logger *zap.Logger) *GeoResolver {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &GeoResolver{
		providers: providers,
		cache:     expirable.NewLRU[string, *event.Geo](cacheSize, nil, cacheTTL),
		timeout:   defaultLookupTimeout,
		metrics:   m,
		logger:    logger,
	}
}

// Lookup never fails. Loopback, private and unparseable addresses, provider
// outages and unknown addresses all yield nil.
func (g *GeoResolver) Lookup(ctx context.Context, rawIP string) *event.Geo {
	ip := NormalizeIP(rawIP)
	if ip == "" || IsPrivateIP(ip) {
		return nil
	}

	if geo, ok := g.cache.Get(ip); ok {
		g.metrics.GeoLookup("cache", "hit")
		return copyGeo(geo)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	notFound := false
	for _, p := range g.providers {
		geo, err := p.Lookup(ctx, ip)
		switch {
		case err == nil && !geo.IsEmpty():
			g.metrics.GeoLookup(p.Name(), "hit")
			g.cache.Add(ip, geo)
			return copyGeo(geo)
		case err == nil, errors.Is(err, ErrGeoNotFound):
			g.metrics.GeoLookup(p.Name(), "miss")
			notFound = true
		default:
			g.metrics.GeoLookup(p.Name(), "error")
			g.logger.Debug("geo provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
		}
	}

	if notFound {
		g.cache.Add(ip, nil)
	}
	return nil
}

func copyGeo(geo *event.Geo) *event.Geo {
	if geo == nil {
		return nil
	}
	c := *geo
	if geo.LL != nil {
		ll := *geo.LL
		c.LL = &ll
	}
	return &c
}
