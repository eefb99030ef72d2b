package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return Wrap(sqlx.NewDb(raw, "sqlmock"), zap.NewNop()), mock
}

func TestHealthCheck(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectPing()
	require.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := db.HealthCheck(context.Background())
	assert.ErrorContains(t, err, "postgres is unreachable")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportStats(t *testing.T) {
	db, _ := newMockDB(t)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.ReportStats(ctx, m, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		stats := db.Stats()
		return testutil.ToFloat64(m.DBConnectionsOpen) == float64(stats.OpenConnections) &&
			testutil.ToFloat64(m.DBConnectionsIdle) == float64(stats.Idle)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReportStats did not stop")
	}
}
