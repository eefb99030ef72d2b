package event

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id          String,
		session_id  String,
		event_kind  LowCardinality(String),
		data        String,
		user_agent  String,
		location    String,
		recorded_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(recorded_at)
	ORDER BY (event_kind, recorded_at)`,
}

// ClickHouseRepository stores payload, client and location as JSON strings
// and filters on them with JSONExtractString.
type ClickHouseRepository struct {
	conn   clickhouse.Conn
	logger *zap.Logger
}

var (
	_ Store         = (*ClickHouseRepository)(nil)
	_ GroupingStore = (*ClickHouseRepository)(nil)
)

func NewClickHouseRepository(conn clickhouse.Conn, logger *zap.Logger) *ClickHouseRepository {
	return &ClickHouseRepository{
		conn:   conn,
		logger: logger,
	}
}

func (r *ClickHouseRepository) Migrate(ctx context.Context) error {
	for _, stmt := range ClickHouseSchema {
		if err := r.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply clickhouse schema: %w", err)
		}
	}
	r.logger.Info("ClickHouse analytics_events schema is up to date")
	return nil
}

func (r *ClickHouseRepository) Append(ctx context.Context, e *Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	data, userAgent, location, err := encodeColumns(e)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (id, session_id, event_kind, data, user_agent, location, recorded_at)
	`)
	if err != nil {
		r.logger.Error("Failed to prepare clickhouse batch", zap.Error(err))
		return "", fmt.Errorf("%w: prepare batch: %w", ErrPersistence, err)
	}

	if err := batch.Append(
		e.ID,
		e.SessionID,
		e.Kind,
		string(data),
		string(userAgent),
		string(location),
		e.RecordedAt,
	); err != nil {
		_ = batch.Abort()
		return "", fmt.Errorf("%w: append to batch: %w", ErrPersistence, err)
	}

	if err := batch.Send(); err != nil {
		r.logger.Error("Failed to send clickhouse batch", zap.Error(err), zap.String("event_id", e.ID))
		return "", fmt.Errorf("%w: send batch: %w", ErrPersistence, err)
	}

	return e.ID, nil
}

func (r *ClickHouseRepository) Query(ctx context.Context, f Filter) ([]*Event, error) {
	where, args, err := clickhouseWhere(f)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, event_kind, data, user_agent, location, recorded_at FROM analytics_events` + where
	if f.NewestFirst {
		query += " ORDER BY recorded_at DESC, id"
	} else {
		query += " ORDER BY recorded_at ASC, id"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query clickhouse events", zap.Error(err))
		return nil, fmt.Errorf("%w: query events: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			row                       eventRow
			data, userAgent, location string
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Kind, &data, &userAgent, &location, &row.RecordedAt); err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", ErrPersistence, err)
		}
		row.Data = []byte(data)
		row.UserAgent = []byte(userAgent)
		row.Location = []byte(location)

		e, err := row.toEvent()
		if err != nil {
			r.logger.Warn("Skipping undecodable event row", zap.String("event_id", row.ID), zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %w", ErrPersistence, err)
	}

	return events, nil
}

func (r *ClickHouseRepository) Count(ctx context.Context, f Filter) (int64, error) {
	return r.scalar(ctx, "SELECT count() FROM analytics_events", f)
}

func (r *ClickHouseRepository) CountDistinctSessions(ctx context.Context, f Filter) (int64, error) {
	return r.scalar(ctx, "SELECT uniqExact(session_id) FROM analytics_events", f)
}

func (r *ClickHouseRepository) CountByCountry(ctx context.Context, f Filter) ([]CountryCount, error) {
	query, args, err := clickhouseCountryQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to group clickhouse events by country", zap.Error(err))
		return nil, fmt.Errorf("%w: group by country: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []CountryCount
	for rows.Next() {
		var (
			c CountryCount
			n uint64
		)
		if err := rows.Scan(&c.Country, &n); err != nil {
			return nil, fmt.Errorf("%w: scan country count: %w", ErrPersistence, err)
		}
		c.Count = int64(n)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate country counts: %w", ErrPersistence, err)
	}
	return out, nil
}

func (r *ClickHouseRepository) CountByContent(ctx context.Context, f Filter) ([]ContentCount, error) {
	query, args, err := clickhouseContentQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to group clickhouse events by content", zap.Error(err))
		return nil, fmt.Errorf("%w: group by content: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []ContentCount
	for rows.Next() {
		var (
			c ContentCount
			n uint64
		)
		if err := rows.Scan(&c.ContentID, &c.ContentTitle, &c.Category, &c.Kind, &n); err != nil {
			return nil, fmt.Errorf("%w: scan content count: %w", ErrPersistence, err)
		}
		c.Count = int64(n)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate content counts: %w", ErrPersistence, err)
	}
	return out, nil
}

func (r *ClickHouseRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

func (r *ClickHouseRepository) scalar(ctx context.Context, head string, f Filter) (int64, error) {
	where, args, err := clickhouseWhere(f)
	if err != nil {
		return 0, err
	}

	var n uint64
	if err := r.conn.QueryRow(ctx, head+where, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count clickhouse events", zap.Error(err))
		return 0, fmt.Errorf("%w: count events: %w", ErrPersistence, err)
	}
	return int64(n), nil
}

func clickhouseCountryQuery(f Filter) (string, []any, error) {
	f.HasCountry = true
	where, args, err := clickhouseWhere(f)
	if err != nil {
		return "", nil, err
	}
	return "SELECT JSONExtractString(location, 'country') AS country, count() AS n FROM analytics_events" +
		where + " GROUP BY country", args, nil
}

// JSONExtractString yields '' for non-string values, matching a decoded Payload.
func clickhouseContentQuery(f Filter) (string, []any, error) {
	where, args, err := clickhouseWhere(f)
	if err != nil {
		return "", nil, err
	}
	return "SELECT JSONExtractString(data, 'movieId') AS content_id, JSONExtractString(data, 'movieTitle') AS content_title, " +
		"JSONExtractString(data, 'category') AS category, event_kind, count() AS n FROM analytics_events" +
		where + " GROUP BY content_id, content_title, category, event_kind", args, nil
}

func clickhouseWhere(f Filter) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)

	if len(f.Kinds) > 0 {
		conds = append(conds, "has(?, event_kind)")
		args = append(args, f.Kinds)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Truncate(time.Millisecond))
	}
	if !f.After.IsZero() {
		conds = append(conds, "recorded_at > ?")
		args = append(args, f.After.UTC().Truncate(time.Millisecond))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "recorded_at < ?")
		args = append(args, f.Before.UTC().Truncate(time.Millisecond))
	}
	for _, field := range f.HasFields {
		conds = append(conds, fmt.Sprintf("JSONExtractString(data, '%s') != ''", field))
	}
	if f.HasCountry {
		conds = append(conds, "JSONExtractString(location, 'country') != ''")
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
