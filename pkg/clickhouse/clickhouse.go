package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

type Config struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

type Client struct {
	Conn   clickhouse.Conn
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "streamin-analytics", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	logger.Info("ClickHouse connected",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Database),
	)

	return &Client{Conn: conn, logger: logger}, nil
}

func (c *Client) Close() error {
	if err := c.Conn.Close(); err != nil {
		c.logger.Error("could not close clickhouse connection", zap.Error(err))
		return fmt.Errorf("could not close clickhouse connection: %w", err)
	}
	c.logger.Info("clickhouse connection closed")
	return nil
}
