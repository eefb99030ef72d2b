package query

import (
	"net/http"

	"github.com/Wuchinator/streamin-analytics/pkg/httputil"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Overview handles GET /api/admin/stats/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetOverview(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to fetch overview stats", err)
		return
	}
	_ = httputil.WriteSuccess(w, resp)
}

// PopularContent handles GET /api/admin/stats/popular-content.
func (h *Handler) PopularContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.GetPopularContent(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to fetch popular content", err)
		return
	}
	_ = httputil.WriteSuccess(w, content)
}

// Realtime handles GET /api/admin/stats/realtime.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	rt, err := h.service.GetRealtime(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to fetch realtime stats", err)
		return
	}
	_ = httputil.WriteSuccess(w, rt)
}

// fail answers 500 with message. The cause only goes to the log.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.logger.Warn("Dashboard request failed",
		zap.String("path", r.URL.Path),
		zap.String("response", message),
		zap.Error(err),
	)
	httputil.WriteInternalError(w, message)
}
