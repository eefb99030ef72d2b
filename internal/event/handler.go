package event

import (
	"fmt"
	"net/http"

	"github.com/Wuchinator/streamin-analytics/pkg/httputil"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	SessionHeader = "X-Session-ID"

	trackFailedMessage = "Failed to track analytics"
)

type trackRequest struct {
	Event string          `json:"event" validate:"required,max=64"`
	Data  json.RawMessage `json:"data"`
}

type trackResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

type Handler struct {
	service      *Service
	validate     *validator.Validate
	clientIP     func(*http.Request) string
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewHandler(service *Service, clientIP func(*http.Request) string, maxBodyBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		service:      service,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		clientIP:     clientIP,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// Track handles POST /api/analytics/track. Every failure, including a
// malformed body, answers 500 with the same generic message.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := httputil.DecodeJSON(r, h.maxBodyBytes, &req); err != nil {
		h.reject(w, fmt.Errorf("%w: %w", ErrValidation, err))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.reject(w, fmt.Errorf("%w: %w", ErrValidation, err))
		return
	}

	var payload Payload
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			h.reject(w, fmt.Errorf("%w: %w", ErrValidation, err))
			return
		}
	}

	res, err := h.service.Track(r.Context(), TrackInput{
		SessionID: r.Header.Get(SessionHeader),
		Kind:      req.Event,
		Payload:   payload,
		UserAgent: r.UserAgent(),
		ClientIP:  h.clientIP(r),
	})
	if err != nil {
		httputil.WriteInternalError(w, trackFailedMessage)
		return
	}

	w.Header().Set(SessionHeader, res.SessionID)
	_ = httputil.WriteSuccess(w, trackResponse{
		Success:   true,
		SessionID: res.SessionID,
	})
}

func (h *Handler) reject(w http.ResponseWriter, err error) {
	h.service.metrics.EventRejected("validation")
	h.logger.Warn("Rejected tracking request", zap.Error(err))
	httputil.WriteInternalError(w, trackFailedMessage)
}
