package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func New(ctx context.Context, config Config, logger *zap.Logger) (*DB, error) {
	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open postgres: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not ping postgres: %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return Wrap(db, logger), nil
}

// Wrap adopts an already opened pool.
func Wrap(db *sqlx.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

func (db *DB) Close() error {
	err := db.DB.Close()
	if err != nil {
		db.logger.Error("could not close database", zap.Error(err))
		return fmt.Errorf("could not close postgres connection: %w", err)
	}
	db.logger.Info("postgres connection closed")
	return nil
}

// Проверяет состояние БД
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres is unreachable: %w", err)
	}
	return nil
}

// ReportStats публикует статистику connection pool в метрики до отмены ctx
func (db *DB) ReportStats(ctx context.Context, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RecordDBStats(db.Stats())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			m.RecordDBStats(stats)
			db.logger.Debug("postgres pool stats",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle),
				zap.Int64("wait_count", stats.WaitCount),
			)
		}
	}
}
