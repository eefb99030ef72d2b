package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/analytics"
	"github.com/Wuchinator/streamin-analytics/internal/config"
	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/internal/query"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		TrustProxy:     true,
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
		RateLimit: config.RateLimitConfig{
			Requests: 100,
			Window:   15 * time.Minute,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) (http.Handler, *event.MemoryStore) {
	t.Helper()
	store := event.NewMemoryStore()
	log := zap.NewNop()

	events := event.NewHandler(
		event.NewService(store, nil, nil, log),
		func(*http.Request) string { return "" },
		cfg.MaxBodyBytes,
		log,
	)
	stats := query.NewHandler(query.NewService(analytics.NewEngine(store), log), log)

	return NewRouter(cfg, Handlers{Events: events, Stats: stats}, metrics.New(), log), store
}

func do(h http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, testConfig())

	rec := do(h, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestTrackThenOverview(t *testing.T) {
	h, store := newTestRouter(t, testConfig())

	rec := do(h, http.MethodPost, "/api/analytics/track", `{"event":"page_view","data":{"page":"home"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(event.SessionHeader))
	assert.Equal(t, 1, store.Len())

	rec = do(h, http.MethodGet, "/api/admin/stats/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Overview analytics.Overview `json:"overview"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Overview.TotalViews)
}

func TestStatsRoutes(t *testing.T) {
	h, _ := newTestRouter(t, testConfig())

	for _, path := range []string{
		"/api/admin/stats/overview",
		"/api/admin/stats/popular-content",
		"/api/admin/stats/realtime",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(h, http.MethodGet, path, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	h, _ := newTestRouter(t, testConfig())

	rec := do(h, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestRateLimitPerIP(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestRouter(t, cfg)

	fromIP := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}

	for i := 0; i < cfg.RateLimit.Requests; i++ {
		rec := do(h, http.MethodGet, "/api/admin/stats/realtime", "", fromIP("203.0.113.9"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := do(h, http.MethodGet, "/api/admin/stats/realtime", "", fromIP("203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), rateLimitMessage)

	// the quota is per caller, other clients are unaffected
	rec = do(h, http.MethodGet, "/api/admin/stats/realtime", "", fromIP("203.0.113.10"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// health is outside /api and never limited
	rec = do(h, http.MethodGet, "/health", "", fromIP("203.0.113.9"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Disabled: true, Requests: 1, Window: time.Hour}
	h, _ := newTestRouter(t, cfg)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/admin/stats/realtime", "").Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, testConfig())

	rec := do(h, http.MethodOptions, "/api/analytics/track", "", func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:3000")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		r.Header.Set("Access-Control-Request-Headers", "content-type,x-session-id")
	})

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "x-session-id")
}

func TestRecovererWritesJSON(t *testing.T) {
	h := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(h, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, testConfig())

	do(h, http.MethodGet, "/health", "")
	rec := do(h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}
