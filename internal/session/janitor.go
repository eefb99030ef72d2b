package session

import (
	"context"
	"time"

	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"go.uber.org/zap"
)

type Janitor struct {
	liveness *Liveness
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewJanitor(liveness *Liveness, interval, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Janitor {
	return &Janitor{
		liveness: liveness,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Session janitor started",
		zap.Duration("interval", j.interval),
		zap.Duration("inactivity_timeout", j.timeout),
	)

	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-ctx.Done():
			j.logger.Info("Session janitor stopped")
			return
		}
	}
}

func (j *Janitor) Sweep() int {
	removed := j.liveness.Sweep(j.now().Add(-j.timeout))
	remaining := j.liveness.Len()

	j.metrics.SessionsEvicted(removed)
	j.metrics.SetLiveSessions(remaining)

	j.logger.Debug("Session cleanup completed",
		zap.Int("evicted", removed),
		zap.Int("remaining", remaining),
	)
	return removed
}
