package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Enricher derives client and geo attributes from the request. It never
// fails: unknown values come back empty.
type Enricher interface {
	ClientInfo(userAgent string) ClientInfo
	Location(ctx context.Context, ip string) *Geo
}

// Publisher fans stored events out to downstream consumers.
type Publisher interface {
	SendMessage(ctx context.Context, key string, value any) error
}

type SessionToucher interface {
	Touch(sessionID string)
}

type TrackInput struct {
	SessionID string
	Kind      string
	Payload   Payload
	UserAgent string
	ClientIP  string
}

type TrackResult struct {
	EventID   string
	SessionID string
}

type Service struct {
	store     Store
	enricher  Enricher
	sessions  SessionToucher
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithPublisher enables best-effort fan-out of every stored event.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, enricher Enricher, sessions SessionToucher, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		enricher: enricher,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track resolves the session, enriches and persists one event, then marks
// the session as live. Only a stored event refreshes liveness.
func (s *Service) Track(ctx context.Context, in TrackInput) (*TrackResult, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e := New(sessionID, in.Kind, in.Payload, s.now())
	if err := e.Validate(); err != nil {
		s.metrics.EventRejected("validation")
		s.logger.Warn("failed to validate event",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("event_kind", e.Kind),
		)
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	if s.enricher != nil {
		e.Client = s.enricher.ClientInfo(in.UserAgent)
		if geo := s.enricher.Location(ctx, in.ClientIP); !geo.IsEmpty() {
			e.Geo = geo
		}
	}

	id, err := s.store.Append(ctx, e)
	if err != nil {
		s.metrics.EventRejected(rejectReason(err))
		s.logger.Error("failed to append event",
			zap.Error(err),
			zap.String("event_id", e.ID),
			zap.String("event_kind", e.Kind),
			zap.String("session_id", sessionID),
		)
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if s.sessions != nil {
		s.sessions.Touch(sessionID)
	}
	s.metrics.EventIngested(kindLabel(e.Kind))

	s.publish(ctx, e)

	s.logger.Debug("Event tracked",
		zap.String("event_id", id),
		zap.String("event_kind", e.Kind),
		zap.String("session_id", sessionID),
	)

	return &TrackResult{EventID: id, SessionID: sessionID}, nil
}

func (s *Service) publish(ctx context.Context, e *Event) {
	if s.publisher == nil {
		return
	}
	// События одной сессии идут в одну партицию
	if err := s.publisher.SendMessage(ctx, e.SessionID, e); err != nil {
		s.metrics.PublishFailed()
		s.logger.Error("failed to publish event",
			zap.String("event_id", e.ID),
			zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicateEvent):
		return "duplicate"
	default:
		return "persistence"
	}
}

func kindLabel(kind string) string {
	if IsKnownKind(kind) {
		return kind
	}
	return "other"
}
