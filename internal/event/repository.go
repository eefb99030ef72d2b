package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresSchema is applied by Migrate. Every statement is idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id          UUID PRIMARY KEY,
		session_id  TEXT NOT NULL,
		event_kind  TEXT NOT NULL,
		data        JSONB NOT NULL DEFAULT '{}'::jsonb,
		user_agent  JSONB NOT NULL DEFAULT '{}'::jsonb,
		location    JSONB,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_recorded_at ON analytics_events (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_kind_recorded_at ON analytics_events (event_kind, recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_session_id ON analytics_events (session_id)`,
}

const selectEventColumns = `SELECT id, session_id, event_kind, data, user_agent, location, recorded_at FROM analytics_events`

type PostgresRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var (
	_ Store         = (*PostgresRepository)(nil)
	_ GroupingStore = (*PostgresRepository)(nil)
)

func NewPostgresRepository(db *sqlx.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

type eventRow struct {
	ID         string    `db:"id"`
	SessionID  string    `db:"session_id"`
	Kind       string    `db:"event_kind"`
	Data       []byte    `db:"data"`
	UserAgent  []byte    `db:"user_agent"`
	Location   []byte    `db:"location"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range PostgresSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	r.logger.Info("analytics_events schema is up to date")
	return nil
}

func (r *PostgresRepository) Append(ctx context.Context, e *Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	data, userAgent, location, err := encodeColumns(e)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	query := `
		INSERT INTO analytics_events (id, session_id, event_kind, data, user_agent, location, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.SessionID,
		e.Kind,
		data,
		userAgent,
		nullableJSON(location),
		e.RecordedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			r.logger.Warn("Duplicate event ignored", zap.String("event_id", e.ID))
			return "", fmt.Errorf("%w: %w", ErrPersistence, ErrDuplicateEvent)
		}
		r.logger.Error("Failed to append event", zap.Error(err), zap.String("event_id", e.ID))
		return "", fmt.Errorf("%w: insert event: %w", ErrPersistence, err)
	}

	r.logger.Debug("Event appended",
		zap.String("event_id", e.ID),
		zap.String("event_kind", e.Kind),
		zap.String("session_id", e.SessionID),
	)

	return e.ID, nil
}

func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]*Event, error) {
	where, args, err := postgresWhere(f)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(selectEventColumns)
	sb.WriteString(where)
	if f.NewestFirst {
		sb.WriteString(" ORDER BY recorded_at DESC, id")
	} else {
		sb.WriteString(" ORDER BY recorded_at ASC, id")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		r.logger.Error("Failed to query events", zap.Error(err))
		return nil, fmt.Errorf("%w: query events: %w", ErrPersistence, err)
	}

	events := make([]*Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEvent()
		if err != nil {
			r.logger.Warn("Skipping undecodable event row", zap.String("event_id", row.ID), zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *PostgresRepository) Count(ctx context.Context, f Filter) (int64, error) {
	return r.scalar(ctx, "SELECT COUNT(*) FROM analytics_events", f)
}

func (r *PostgresRepository) CountDistinctSessions(ctx context.Context, f Filter) (int64, error) {
	return r.scalar(ctx, "SELECT COUNT(DISTINCT session_id) FROM analytics_events", f)
}

// CountByCountry groups located events by country.
func (r *PostgresRepository) CountByCountry(ctx context.Context, f Filter) ([]CountryCount, error) {
	f.HasCountry = true
	where, args, err := postgresWhere(f)
	if err != nil {
		return nil, err
	}

	query := `SELECT location->>'country' AS country, COUNT(*) AS n FROM analytics_events` + where + ` GROUP BY 1`

	var rows []CountryCount
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.Error("Failed to group events by country", zap.Error(err))
		return nil, fmt.Errorf("%w: group by country: %w", ErrPersistence, err)
	}
	return rows, nil
}

// CountByContent groups events by title and kind. A category that is not
// a string reads as empty, the same as in a decoded Payload.
func (r *PostgresRepository) CountByContent(ctx context.Context, f Filter) ([]ContentCount, error) {
	where, args, err := postgresWhere(f)
	if err != nil {
		return nil, err
	}

	query := `SELECT
			COALESCE(data->>'movieId', '') AS content_id,
			COALESCE(data->>'movieTitle', '') AS content_title,
			CASE WHEN jsonb_typeof(data->'category') = 'string' THEN data->>'category' ELSE '' END AS category,
			event_kind,
			COUNT(*) AS n
		FROM analytics_events` + where + ` GROUP BY 1, 2, 3, 4`

	var rows []ContentCount
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.Error("Failed to group events by content", zap.Error(err))
		return nil, fmt.Errorf("%w: group by content: %w", ErrPersistence, err)
	}
	return rows, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) scalar(ctx context.Context, head string, f Filter) (int64, error) {
	where, args, err := postgresWhere(f)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := r.db.GetContext(ctx, &n, head+where, args...); err != nil {
		r.logger.Error("Failed to count events", zap.Error(err))
		return 0, fmt.Errorf("%w: count events: %w", ErrPersistence, err)
	}
	return n, nil
}

func postgresWhere(f Filter) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(f.Kinds) > 0 {
		conds = append(conds, "event_kind = ANY("+next(pq.Array(f.Kinds))+")")
	}
	if !f.Since.IsZero() {
		conds = append(conds, "recorded_at >= "+next(f.Since))
	}
	if !f.After.IsZero() {
		conds = append(conds, "recorded_at > "+next(f.After))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "recorded_at < "+next(f.Before))
	}
	for _, field := range f.HasFields {
		// field is checked against the allowlist in Validate.
		// Only string values count, the same as in a decoded Payload.
		conds = append(conds, fmt.Sprintf("jsonb_typeof(data->'%[1]s') = 'string' AND data->>'%[1]s' <> ''", field))
	}
	if f.HasCountry {
		conds = append(conds, "COALESCE(location->>'country', '') <> ''")
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func encodeColumns(e *Event) (data, userAgent, location []byte, err error) {
	if data, err = json.Marshal(e.Payload); err != nil {
		return nil, nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	if userAgent, err = json.Marshal(e.Client); err != nil {
		return nil, nil, nil, fmt.Errorf("encode user agent: %w", err)
	}
	if !e.Geo.IsEmpty() {
		if location, err = json.Marshal(e.Geo); err != nil {
			return nil, nil, nil, fmt.Errorf("encode location: %w", err)
		}
	}
	return data, userAgent, location, nil
}

// nullableJSON maps an absent document to SQL NULL.
func nullableJSON(doc []byte) any {
	if len(doc) == 0 {
		return nil
	}
	return doc
}

func (row eventRow) toEvent() (*Event, error) {
	e := &Event{
		ID:         row.ID,
		SessionID:  row.SessionID,
		Kind:       row.Kind,
		RecordedAt: row.RecordedAt.UTC(),
	}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(row.UserAgent) > 0 {
		if err := json.Unmarshal(row.UserAgent, &e.Client); err != nil {
			return nil, fmt.Errorf("decode user agent: %w", err)
		}
	}
	if len(row.Location) > 0 {
		var geo Geo
		if err := json.Unmarshal(row.Location, &geo); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		e.Geo = &geo
	}
	return e, nil
}
