package event

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	KindPageView           = "page_view"
	KindVideoStart         = "video_start"
	KindVideoEnd           = "video_end"
	KindVideoProgress      = "video_progress"
	KindSearch             = "search"
	KindContentInteraction = "content_interaction"
	KindServerChange       = "server_change"
	KindEpisodeSelect      = "episode_select"
	KindError              = "error"
	KindFeatureUse         = "feature_use"
	KindPageUnload         = "page_unload"
)

const maxKindLength = 64

var knownKinds = map[string]struct{}{
	KindPageView:           {},
	KindVideoStart:         {},
	KindVideoEnd:           {},
	KindVideoProgress:      {},
	KindSearch:             {},
	KindContentInteraction: {},
	KindServerChange:       {},
	KindEpisodeSelect:      {},
	KindError:              {},
	KindFeatureUse:         {},
	KindPageUnload:         {},
}

// IsKnownKind reports whether kind is one the dashboards understand.
// Unknown kinds are still accepted and stored.
func IsKnownKind(kind string) bool {
	_, ok := knownKinds[kind]
	return ok
}

type Event struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"sessionId"`
	Kind       string     `json:"event"`
	Payload    Payload    `json:"data"`
	Client     ClientInfo `json:"userAgent"`
	Geo        *Geo       `json:"location,omitempty"`
	RecordedAt time.Time  `json:"timestamp"`
}

// Payload holds the named per-kind attributes. Fields the server does not
// know about, and known fields holding a value of the wrong shape, are kept
// in Extra and round-trip untouched.
type Payload struct {
	ContentID    string   `json:"movieId,omitempty"`
	ContentTitle string   `json:"movieTitle,omitempty"`
	Category     string   `json:"category,omitempty"`
	SearchQuery  string   `json:"query,omitempty"`
	PageName     string   `json:"page,omitempty"`
	ServerName   string   `json:"server,omitempty"`
	Season       *int     `json:"season,omitempty"`
	Episode      *int     `json:"episode,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Progress     *float64 `json:"progress,omitempty"`
	ErrorMessage string   `json:"error,omitempty"`
	FeatureName  string   `json:"feature,omitempty"`
	Action       string   `json:"action,omitempty"`
	Referrer     string   `json:"referrer,omitempty"`
	URL          string   `json:"url,omitempty"`
	PageTitle    string   `json:"title,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type ClientInfo struct {
	Browser   string `json:"browser,omitempty"`
	Version   string `json:"version,omitempty"`
	OS        string `json:"os,omitempty"`
	Platform  string `json:"platform,omitempty"`
	IsMobile  bool   `json:"isMobile"`
	IsDesktop bool   `json:"isDesktop"`
	IsTablet  bool   `json:"isTablet"`
}

type Geo struct {
	Country  string      `json:"country,omitempty"`
	Region   string      `json:"region,omitempty"`
	City     string      `json:"city,omitempty"`
	Timezone string      `json:"timezone,omitempty"`
	LL       *[2]float64 `json:"ll,omitempty"`
}

func (g *Geo) IsEmpty() bool {
	return g == nil || (g.Country == "" && g.Region == "" && g.City == "" && g.Timezone == "" && g.LL == nil)
}

// Field names a payload attribute by its wire name. Only these may be used
// in a Filter, the SQL stores interpolate them.
type Field string

const (
	FieldContentID    Field = "movieId"
	FieldContentTitle Field = "movieTitle"
	FieldCategory     Field = "category"
	FieldSearchQuery  Field = "query"
	FieldPageName     Field = "page"
	FieldServerName   Field = "server"
	FieldFeatureName  Field = "feature"
)

func (f Field) Valid() bool {
	switch f {
	case FieldContentID, FieldContentTitle, FieldCategory, FieldSearchQuery,
		FieldPageName, FieldServerName, FieldFeatureName:
		return true
	}
	return false
}

// Get returns the string value of the field, "" when absent.
func (p *Payload) Get(f Field) string {
	switch f {
	case FieldContentID:
		return p.ContentID
	case FieldContentTitle:
		return p.ContentTitle
	case FieldCategory:
		return p.Category
	case FieldSearchQuery:
		return p.SearchQuery
	case FieldPageName:
		return p.PageName
	case FieldServerName:
		return p.ServerName
	case FieldFeatureName:
		return p.FeatureName
	}
	return ""
}

type payloadFields Payload

// UnmarshalJSON accepts any object. Scalars are coerced into the named
// fields: numbers into string fields, numeric strings into number fields.
// A value that still does not fit is kept in Extra under its key.
func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = Payload{}
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: payload must be a JSON object", ErrValidation)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var out Payload
	for key, value := range raw {
		if out.assign(key, value) {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[key] = value
	}
	*p = out
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(payloadFields(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+8)
	for k, v := range p.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// assign stores value into the named field for key. It reports false for
// unknown keys and for values that cannot be coerced.
func (p *Payload) assign(key string, value json.RawMessage) bool {
	if target := p.stringField(key); target != nil {
		s, ok := coerceString(value)
		if ok {
			*target = s
		}
		return ok
	}

	switch key {
	case "season":
		return coerceInt(&p.Season, value)
	case "episode":
		return coerceInt(&p.Episode, value)
	case "duration":
		return coerceFloat(&p.Duration, value)
	case "progress":
		return coerceFloat(&p.Progress, value)
	}
	return false
}

func (p *Payload) stringField(key string) *string {
	switch key {
	case "movieId":
		return &p.ContentID
	case "movieTitle":
		return &p.ContentTitle
	case "category":
		return &p.Category
	case "query":
		return &p.SearchQuery
	case "page":
		return &p.PageName
	case "server":
		return &p.ServerName
	case "error":
		return &p.ErrorMessage
	case "feature":
		return &p.FeatureName
	case "action":
		return &p.Action
	case "referrer":
		return &p.Referrer
	case "url":
		return &p.URL
	case "title":
		return &p.PageTitle
	}
	return nil
}

// coerceString accepts strings, numbers and booleans. Numbers keep their
// literal form, so 603 becomes "603".
func coerceString(value json.RawMessage) (string, bool) {
	v := bytes.TrimSpace(value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", true
	}

	switch v[0] {
	case '"':
		var s string
		err := json.Unmarshal(v, &s)
		return s, err == nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	}

	if _, ok := parseNumber(v); ok {
		return string(v), true
	}
	return "", false
}

func coerceInt(dst **int, value json.RawMessage) bool {
	f, ok, isNull := numeric(value)
	if isNull {
		return true
	}
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return false
	}
	n := int(f)
	*dst = &n
	return true
}

func coerceFloat(dst **float64, value json.RawMessage) bool {
	f, ok, isNull := numeric(value)
	if isNull {
		return true
	}
	if !ok {
		return false
	}
	*dst = &f
	return true
}

// numeric reads a JSON number or a string holding one. An empty string
// counts as null.
func numeric(value json.RawMessage) (f float64, ok, isNull bool) {
	v := bytes.TrimSpace(value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return 0, false, true
	}

	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, true
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false, false
		}
		return n, true, false
	}

	f, ok = parseNumber(v)
	return f, ok, false
}

func parseNumber(v []byte) (float64, bool) {
	if len(v) == 0 || (v[0] != '-' && (v[0] < '0' || v[0] > '9')) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return f, true
}

// New builds an event stamped with a fresh id and the given time.
func New(sessionID, kind string, payload Payload, recordedAt time.Time) *Event {
	return &Event{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       strings.TrimSpace(kind),
		Payload:    payload,
		RecordedAt: recordedAt.UTC(),
	}
}

func (e *Event) Validate() error {
	switch {
	case e.Kind == "":
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingEventKind)
	case len(e.Kind) > maxKindLength:
		return fmt.Errorf("%w: %w", ErrValidation, ErrEventKindTooLong)
	case e.SessionID == "":
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingSessionID)
	case e.RecordedAt.IsZero():
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingTimestamp)
	}
	return nil
}

// Clone returns a deep copy so stores never share memory with callers.
func (e *Event) Clone() *Event {
	c := *e
	if e.Geo != nil {
		g := *e.Geo
		if e.Geo.LL != nil {
			ll := *e.Geo.LL
			g.LL = &ll
		}
		c.Geo = &g
	}
	c.Payload.Season = cloneInt(e.Payload.Season)
	c.Payload.Episode = cloneInt(e.Payload.Episode)
	c.Payload.Duration = cloneFloat(e.Payload.Duration)
	c.Payload.Progress = cloneFloat(e.Payload.Progress)
	if e.Payload.Extra != nil {
		c.Payload.Extra = make(map[string]json.RawMessage, len(e.Payload.Extra))
		for k, v := range e.Payload.Extra {
			c.Payload.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
