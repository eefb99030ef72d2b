package server

import (
	"net/http"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/config"
	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/Wuchinator/streamin-analytics/internal/query"
	"github.com/Wuchinator/streamin-analytics/pkg/httputil"
	"github.com/Wuchinator/streamin-analytics/pkg/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

type Handlers struct {
	Events *event.Handler
	Stats  *query.Handler
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func NewRouter(cfg *config.Config, h Handlers, m *metrics.Metrics, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(recoverer(log))
	r.Use(accessLog(log))
	r.Use(instrument(m))
	r.Use(securityHeaders)
	// CORS must see preflight requests before routing
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", event.SessionHeader},
		ExposedHeaders: []string{event.SessionHeader},
		MaxAge:         86400,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w)
	})
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", healthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(cfg))
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

		r.Post("/analytics/track", h.Events.Track)

		r.Route("/admin/stats", func(r chi.Router) {
			r.Get("/overview", h.Stats.Overview)
			r.Get("/popular-content", h.Stats.PopularContent)
			r.Get("/realtime", h.Stats.Realtime)
		})
	})

	return r
}

func rateLimit(cfg *config.Config) func(http.Handler) http.Handler {
	if cfg.RateLimit.Disabled {
		return func(next http.Handler) http.Handler { return next }
	}

	key := httprate.KeyByIP
	if cfg.TrustProxy {
		key = httprate.KeyByRealIP
	}

	return httprate.Limit(
		cfg.RateLimit.Requests,
		cfg.RateLimit.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(rateLimited),
	)
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	_ = httputil.WriteSuccess(w, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
