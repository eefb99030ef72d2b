// Package tracker is the client side of the analytics pipeline. Every
// tracking call is fire-and-forget: failures are logged and dropped, never
// returned to the caller and never retried.
package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	trackPath     = "/api/analytics/track"
	sessionHeader = "X-Session-ID"
)

type Category string

const (
	CategoryMovie Category = "movie"
	CategoryTV    Category = "tv"
	CategoryAnime Category = "anime"
)

// Page describes where the tracking calls originate from. It is attached to
// every event.
type Page struct {
	URL      string
	Referrer string
	Title    string
}

type Tracker struct {
	baseURL string
	client  *http.Client
	storage Storage
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	sessionID string
	enabled   bool
	page      Page

	inflight sync.WaitGroup
}

type Option func(*Tracker)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Tracker) { t.client = c }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithPage(p Page) Option {
	return func(t *Tracker) { t.page = p }
}

// New restores the session from storage, or starts one. A storage failure
// disables tracking instead of failing.
func New(baseURL string, storage Storage, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		storage: storage,
		logger:  logger,
		now:     time.Now,
		enabled: true,
	}
	for _, opt := range opts {
		opt(t)
	}

	if raw, err := storage.Get(KeyEnabled); err == nil {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			t.enabled = enabled
		}
	}

	if _, err := t.EnsureSessionID(); err != nil {
		logger.Warn("Analytics session init failed", zap.Error(err))
		t.enabled = false
		return t
	}
	if err := t.RecordActivity(); err != nil {
		logger.Warn("Analytics session init failed", zap.Error(err))
		t.enabled = false
	}
	return t
}

// SetPage updates the page context, e.g. after navigation.
func (t *Tracker) SetPage(p Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = p
}

// Wait blocks until every in-flight tracking call has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

func (t *Tracker) TrackPageView(page string, extra map[string]any) {
	t.track("page_view", merge(map[string]any{
		"page":  page,
		"title": t.currentPage().Title,
	}, extra))
}

func (t *Tracker) TrackVideoStart(contentID, title string, category Category, server string, extra map[string]any) {
	t.track("video_start", merge(map[string]any{
		"movieId":    contentID,
		"movieTitle": title,
		"category":   category,
		"server":     server,
	}, extra))
}

func (t *Tracker) TrackVideoEnd(contentID, title string, category Category, duration, progress float64, extra map[string]any) {
	t.track("video_end", merge(map[string]any{
		"movieId":    contentID,
		"movieTitle": title,
		"category":   category,
		"duration":   duration,
		"progress":   progress,
	}, extra))
}

// TrackVideoProgress only reports the 25/50/75/100 percent milestones, each
// with a 5 point tolerance. It reports whether an event was sent.
func (t *Tracker) TrackVideoProgress(contentID string, progress, duration float64) bool {
	milestone, ok := progressMilestone(progress)
	if !ok {
		return false
	}
	t.track("video_progress", map[string]any{
		"movieId":  contentID,
		"progress": milestone,
		"duration": duration,
	})
	return true
}

func (t *Tracker) TrackSearch(query string, results int) {
	t.track("search", map[string]any{
		"query":   query,
		"results": results,
	})
}

func (t *Tracker) TrackContentClick(contentID, title string, category Category, action string) {
	if action == "" {
		action = "click"
	}
	t.track("content_interaction", map[string]any{
		"movieId":    contentID,
		"movieTitle": title,
		"category":   category,
		"action":     action,
	})
}

func (t *Tracker) TrackServerChange(contentID, fromServer, toServer string) {
	t.track("server_change", map[string]any{
		"movieId":    contentID,
		"fromServer": fromServer,
		"toServer":   toServer,
	})
}

func (t *Tracker) TrackEpisodeSelect(contentID string, season, episode int) {
	t.track("episode_select", map[string]any{
		"movieId": contentID,
		"season":  season,
		"episode": episode,
	})
}

func (t *Tracker) TrackError(message, where string, extra map[string]any) {
	t.track("error", merge(map[string]any{
		"error":   message,
		"context": where,
	}, extra))
}

func (t *Tracker) TrackFeatureUse(feature string, data map[string]any) {
	t.track("feature_use", merge(map[string]any{
		"feature": feature,
	}, data))
}

// TrackPageUnload reports how long the page was open since the last
// recorded activity, in milliseconds.
func (t *Tracker) TrackPageUnload() {
	var duration int64
	if last, ok := t.lastActivity(); ok {
		duration = t.now().Sub(last).Milliseconds()
	}
	t.track("page_unload", map[string]any{
		"page":     "page_unload",
		"duration": duration,
	})
}

type trackRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (t *Tracker) track(kind string, data map[string]any) {
	t.mu.Lock()
	enabled, sessionID, page := t.enabled, t.sessionID, t.page
	t.mu.Unlock()

	if !enabled || sessionID == "" {
		return
	}

	body := trackRequest{
		Event: kind,
		Data: merge(data, map[string]any{
			"timestamp": t.now().UTC().Format(time.RFC3339Nano),
			"url":       page.URL,
			"referrer":  page.Referrer,
		}),
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Warn("Analytics tracking panicked", zap.String("event", kind), zap.Any("panic", r))
			}
		}()

		if err := t.send(sessionID, body); err != nil {
			t.logger.Warn("Analytics tracking failed", zap.String("event", kind), zap.Error(err))
			return
		}
		if err := t.RecordActivity(); err != nil {
			t.logger.Warn("Analytics activity update failed", zap.Error(err))
		}
	}()
}

func (t *Tracker) send(sessionID string, body trackRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, t.baseURL+trackPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, sessionID)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		t.logger.Warn("Analytics server rejected event",
			zap.String("event", body.Event),
			zap.Int("status", resp.StatusCode),
		)
	}
	return nil
}

func (t *Tracker) currentPage() Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

func progressMilestone(progress float64) (int, bool) {
	for _, m := range []int{25, 50, 75, 100} {
		if progress >= float64(m) && progress < float64(m+5) {
			return m, true
		}
	}
	return 0, false
}

// merge copies base and overlays extra on top of it.
func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
