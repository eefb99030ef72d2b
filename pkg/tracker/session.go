package tracker

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	KeySessionID    = "streamin_session_id"
	KeyLastActivity = "streamin_last_activity"
	KeyEnabled      = "streamin_analytics_enabled"

	// ActiveWindow is how long a session stays active without activity.
	ActiveWindow = 30 * time.Minute

	sessionSuffixLen = 9
	base36           = "0123456789abcdefghijklmnopqrstuvwxyz"
)

type SessionInfo struct {
	SessionID    string
	LastActivity time.Time
	IsActive     bool
}

// EnsureSessionID returns the persisted session id, minting and storing a
// new one on first use or after ClearTrackingData.
func (t *Tracker) EnsureSessionID() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionID != "" {
		return t.sessionID, nil
	}

	id, err := t.storage.Get(KeySessionID)
	switch {
	case err == nil && id != "":
	case err == nil || errors.Is(err, ErrNotFound):
		id = newSessionID(t.now())
		if err := t.storage.Set(KeySessionID, id); err != nil {
			return "", fmt.Errorf("persist session id: %w", err)
		}
	default:
		return "", fmt.Errorf("load session id: %w", err)
	}

	t.sessionID = id
	return id, nil
}

func (t *Tracker) RecordActivity() error {
	ms := strconv.FormatInt(t.now().UnixMilli(), 10)
	if err := t.storage.Set(KeyLastActivity, ms); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (t *Tracker) lastActivity() (time.Time, bool) {
	raw, err := t.storage.Get(KeyLastActivity)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// IsSessionActive reports whether the last activity is less than
// ActiveWindow ago.
func (t *Tracker) IsSessionActive() bool {
	last, ok := t.lastActivity()
	if !ok {
		return false
	}
	return t.now().Sub(last) < ActiveWindow
}

func (t *Tracker) SessionInfo() SessionInfo {
	t.mu.Lock()
	id := t.sessionID
	t.mu.Unlock()

	last, _ := t.lastActivity()
	return SessionInfo{
		SessionID:    id,
		LastActivity: last,
		IsActive:     t.IsSessionActive(),
	}
}

func (t *Tracker) SetEnabled(enabled bool) error {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()

	if err := t.storage.Set(KeyEnabled, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("persist enabled flag: %w", err)
	}
	return nil
}

func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// ClearTrackingData forgets the session and disables tracking. The next
// EnsureSessionID starts a new session.
func (t *Tracker) ClearTrackingData() error {
	t.mu.Lock()
	t.sessionID = ""
	t.enabled = false
	t.mu.Unlock()

	if err := t.storage.Delete(KeySessionID, KeyLastActivity, KeyEnabled); err != nil {
		return fmt.Errorf("clear tracking data: %w", err)
	}
	return nil
}

// newSessionID formats session_<unix ms>_<9 base36 chars>.
func newSessionID(now time.Time) string {
	suffix := make([]byte, sessionSuffixLen)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}
