package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/config"
	"github.com/Wuchinator/streamin-analytics/internal/enrich"
	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/pkg/clickhouse"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/Wuchinator/streamin-analytics/pkg/postgres"
	"go.uber.org/zap"
)

const dbStatsInterval = 15 * time.Second

// openStore connects the configured event store and applies its schema.
// The returned func releases the connection.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (event.Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("Using in-memory event store, events are lost on restart")
		return event.NewMemoryStore(), func() error { return nil }, nil

	case config.StoreDriverClickHouse:
		client, err := clickhouse.New(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr(),
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		repo := event.NewClickHouseRepository(client.Conn, log)
		if cfg.ClickHouse.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				_ = client.Close()
				return nil, nil, err
			}
		}
		return repo, client.Close, nil

	case config.StoreDriverPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.PostgresDSN(),
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		repo := event.NewPostgresRepository(db.DB, log)
		if cfg.Postgres.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		go db.ReportStats(ctx, m, dbStatsInterval)
		return repo, db.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreDriver, cfg.StoreDriver)
}

// geoProviders returns the configured lookups in priority order: the local
// database first, the remote API as a fallback.
func geoProviders(cfg *config.Config, log *zap.Logger) ([]enrich.GeoProvider, []func() error) {
	var (
		providers []enrich.GeoProvider
		closers   []func() error
	)

	if cfg.GeoIP.MMDBPath != "" {
		mm, err := enrich.OpenMaxMindProvider(cfg.GeoIP.MMDBPath)
		if err != nil {
			log.Warn("GeoIP database unavailable, skipping", zap.String("path", cfg.GeoIP.MMDBPath), zap.Error(err))
		} else {
			providers = append(providers, mm)
			closers = append(closers, mm.Close)
		}
	}

	if cfg.GeoIP.IPAPIEnabled {
		providers = append(providers, enrich.NewIPAPIProvider(cfg.GeoIP.IPAPIURL, log))
	}

	if len(providers) == 0 {
		log.Info("No geo providers configured, events are stored without location")
	}
	return providers, closers
}
