package query

import (
	"context"
	"fmt"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/analytics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator is the read side the dashboard is built on.
type Aggregator interface {
	Overview(ctx context.Context) (*analytics.Overview, error)
	TopCountries(ctx context.Context, limit int) ([]analytics.CountryCount, error)
	PopularContent(ctx context.Context, limit int) ([]analytics.ContentStat, error)
	Realtime(ctx context.Context) (*analytics.Realtime, error)
}

type Service struct {
	aggregator Aggregator
	logger     *zap.Logger
}

func NewService(aggregator Aggregator, logger *zap.Logger) *Service {
	return &Service{
		aggregator: aggregator,
		logger:     logger,
	}
}

// GetOverview computes the counters and the country breakdown in parallel.
func (s *Service) GetOverview(ctx context.Context) (*OverviewResponse, error) {
	start := time.Now()

	var resp OverviewResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.aggregator.Overview(gctx)
		if err != nil {
			return err
		}
		resp.Overview = o
		return nil
	})
	g.Go(func() error {
		countries, err := s.aggregator.TopCountries(gctx, analytics.TopCountriesLimit)
		if err != nil {
			return err
		}
		resp.TopCountries = countries
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to get overview", zap.Error(err))
		return nil, fmt.Errorf("failed to get overview: %w", err)
	}

	if resp.TopCountries == nil {
		resp.TopCountries = []analytics.CountryCount{}
	}

	s.logger.Info("Overview retrieved",
		zap.Int("countries", len(resp.TopCountries)),
		zap.Duration("took", time.Since(start)),
	)

	return &resp, nil
}

func (s *Service) GetPopularContent(ctx context.Context) ([]analytics.ContentStat, error) {
	start := time.Now()

	content, err := s.aggregator.PopularContent(ctx, analytics.PopularContentLimit)
	if err != nil {
		s.logger.Error("Failed to get popular content", zap.Error(err))
		return nil, fmt.Errorf("failed to get popular content: %w", err)
	}
	if content == nil {
		content = []analytics.ContentStat{}
	}

	s.logger.Info("Popular content retrieved",
		zap.Int("count", len(content)),
		zap.Duration("took", time.Since(start)),
	)

	return content, nil
}

func (s *Service) GetRealtime(ctx context.Context) (*analytics.Realtime, error) {
	start := time.Now()

	rt, err := s.aggregator.Realtime(ctx)
	if err != nil {
		s.logger.Error("Failed to get realtime activity", zap.Error(err))
		return nil, fmt.Errorf("failed to get realtime activity: %w", err)
	}
	if rt.CurrentWatching == nil {
		rt.CurrentWatching = []analytics.ActivityItem{}
	}

	s.logger.Debug("Realtime activity retrieved",
		zap.Int("events", len(rt.CurrentWatching)),
		zap.Int64("active_users", rt.ActiveUsers),
		zap.Duration("took", time.Since(start)),
	)

	return rt, nil
}
