package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ipAPIFields = "status,message,countryCode,region,city,lat,lon,timezone,query"

// IPAPIProvider queries ip-api.com. The free tier allows 45 requests per
// minute, the limiter keeps us under it.
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*event.Geo]
	logger  *zap.Logger
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	Query       string  `json:"query"`
}

func NewIPAPIProvider(baseURL string, logger *zap.Logger) *IPAPIProvider {
	p := &IPAPIProvider{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Minute/45), 45),
		logger:  logger,
	}

	p.breaker = gobreaker.NewCircuitBreaker[*event.Geo](gobreaker.Settings{
		Name:        "ip-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrGeoNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return p
}

func (p *IPAPIProvider) Name() string {
	return "ip-api"
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (*event.Geo, error) {
	if !p.limiter.Allow() {
		return nil, ErrProviderRateLimited
	}
	return p.breaker.Execute(func() (*event.Geo, error) {
		return p.query(ctx, ip)
	})
}

func (p *IPAPIProvider) query(ctx context.Context, ip string) (*event.Geo, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=%s", p.baseURL, url.PathEscape(ip), ipAPIFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query ip-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ip-api response: %w", err)
	}

	if result.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrGeoNotFound, result.Message)
	}

	geo := &event.Geo{
		Country:  result.CountryCode,
		Region:   result.Region,
		City:     result.City,
		Timezone: result.Timezone,
	}
	if result.Lat != 0 || result.Lon != 0 {
		geo.LL = &[2]float64{result.Lat, result.Lon}
	}
	return geo, nil
}
