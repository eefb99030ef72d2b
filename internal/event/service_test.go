package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/session"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrackMintsSessionWhenAbsent(t *testing.T) {
	store := NewMemoryStore()
	sessions := &recordingSessions{}
	svc := NewService(store, stubEnricher{}, sessions, zap.NewNop())

	res, err := svc.Track(context.Background(), TrackInput{Kind: KindPageView, Payload: Payload{PageName: "home"}})
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, []string{res.SessionID}, sessions.ids())

	events, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.SessionID, events[0].SessionID)
	assert.Equal(t, "home", events[0].Payload.PageName)
}

func TestTrackKeepsSuppliedSession(t *testing.T) {
	svc := NewService(NewMemoryStore(), stubEnricher{}, &recordingSessions{}, zap.NewNop())

	first, err := svc.Track(context.Background(), TrackInput{SessionID: "abc", Kind: KindSearch})
	require.NoError(t, err)
	second, err := svc.Track(context.Background(), TrackInput{SessionID: "abc", Kind: KindSearch})
	require.NoError(t, err)

	assert.Equal(t, "abc", first.SessionID)
	assert.Equal(t, "abc", second.SessionID)
	assert.NotEqual(t, first.EventID, second.EventID)
}

func TestTrackEnrichesEvent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	enricher := stubEnricher{
		client: ClientInfo{Browser: "Chrome", OS: "Android", IsMobile: true},
		geo:    &Geo{Country: "BR", City: "Recife"},
	}
	svc := NewService(store, enricher, &recordingSessions{}, zap.NewNop(), WithClock(func() time.Time { return now }))

	_, err := svc.Track(context.Background(), TrackInput{SessionID: "s1", Kind: KindVideoStart, ClientIP: "203.0.113.9"})
	require.NoError(t, err)

	events, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Client.IsMobile)
	assert.Equal(t, "BR", events[0].Geo.Country)
	assert.Equal(t, now, events[0].RecordedAt)
}

func TestTrackEmptyGeoIsDropped(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, stubEnricher{geo: &Geo{}}, &recordingSessions{}, zap.NewNop())

	_, err := svc.Track(context.Background(), TrackInput{Kind: KindSearch, ClientIP: "127.0.0.1"})
	require.NoError(t, err)

	events, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Nil(t, events[0].Geo)
}

func TestTrackValidationFailure(t *testing.T) {
	store := NewMemoryStore()
	sessions := &recordingSessions{}
	m := metrics.New()
	svc := NewService(store, stubEnricher{}, sessions, zap.NewNop(), WithMetrics(m))

	_, err := svc.Track(context.Background(), TrackInput{SessionID: "s1", Kind: ""})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, sessions.ids())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejectedTotal.WithLabelValues("validation")))
}

func TestTrackPersistenceFailureLeavesLivenessUntouched(t *testing.T) {
	sessions := &recordingSessions{}
	svc := NewService(failingStore{NewMemoryStore()}, stubEnricher{}, sessions, zap.NewNop())

	_, err := svc.Track(context.Background(), TrackInput{SessionID: "s1", Kind: KindSearch})

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, sessions.ids())
}

func TestTrackPublishFailureIsNotSurfaced(t *testing.T) {
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	m := metrics.New()
	svc := NewService(NewMemoryStore(), stubEnricher{}, &recordingSessions{}, zap.NewNop(),
		WithPublisher(publisher), WithMetrics(m))

	res, err := svc.Track(context.Background(), TrackInput{SessionID: "s9", Kind: KindVideoEnd})

	require.NoError(t, err)
	assert.Equal(t, "s9", res.SessionID)
	assert.Equal(t, []string{"s9"}, publisher.keys)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailuresTotal))
}

func TestTrackUnknownKindIsStored(t *testing.T) {
	store := NewMemoryStore()
	m := metrics.New()
	svc := NewService(store, stubEnricher{}, &recordingSessions{}, zap.NewNop(), WithMetrics(m))

	_, err := svc.Track(context.Background(), TrackInput{Kind: "trailer_autoplay"})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngestedTotal.WithLabelValues("other")))
}

func TestTrackConcurrentSessions(t *testing.T) {
	const n = 200

	store := NewMemoryStore()
	liveness, err := session.NewLiveness(10_000)
	require.NoError(t, err)
	svc := NewService(store, stubEnricher{}, liveness, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Track(context.Background(), TrackInput{
				SessionID: fmt.Sprintf("session-%d", i),
				Kind:      KindPageView,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, n, store.Len())
	assert.Equal(t, n, liveness.Len())
}

func TestTrackMintedSessionsAreDistinct(t *testing.T) {
	const n = 50

	liveness, err := session.NewLiveness(1_000)
	require.NoError(t, err)
	svc := NewService(NewMemoryStore(), stubEnricher{}, liveness, zap.NewNop())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Track(context.Background(), TrackInput{Kind: KindSearch})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[res.SessionID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, n, liveness.Len())
}
