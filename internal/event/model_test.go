package event

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadKeepsUnknownFields(t *testing.T) {
	raw := `{"movieId":"tt0133093","movieTitle":"The Matrix","season":2,"results":14,"context":{"row":"trending"}}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, "tt0133093", p.ContentID)
	assert.Equal(t, "The Matrix", p.ContentTitle)
	require.NotNil(t, p.Season)
	assert.Equal(t, 2, *p.Season)
	assert.Len(t, p.Extra, 2)
	assert.JSONEq(t, `14`, string(p.Extra["results"]))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestPayloadCoercesScalars(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p Payload)
	}{
		{
			name: "number into string field",
			raw:  `{"movieId":603,"movieTitle":1984}`,
			check: func(t *testing.T, p Payload) {
				assert.Equal(t, "603", p.ContentID)
				assert.Equal(t, "1984", p.ContentTitle)
				assert.Empty(t, p.Extra)
			},
		},
		{
			name: "bool into string field",
			raw:  `{"action":true}`,
			check: func(t *testing.T, p Payload) {
				assert.Equal(t, "true", p.Action)
			},
		},
		{
			name: "numeric strings into number fields",
			raw:  `{"season":"3","episode":" 12 ","duration":"5400","progress":"33.3"}`,
			check: func(t *testing.T, p Payload) {
				require.NotNil(t, p.Season)
				assert.Equal(t, 3, *p.Season)
				require.NotNil(t, p.Episode)
				assert.Equal(t, 12, *p.Episode)
				require.NotNil(t, p.Duration)
				assert.Equal(t, 5400.0, *p.Duration)
				require.NotNil(t, p.Progress)
				assert.Equal(t, 33.3, *p.Progress)
			},
		},
		{
			name: "integral float into int field",
			raw:  `{"season":2.0}`,
			check: func(t *testing.T, p Payload) {
				require.NotNil(t, p.Season)
				assert.Equal(t, 2, *p.Season)
			},
		},
		{
			name: "empty string and null leave number fields unset",
			raw:  `{"season":"","episode":null}`,
			check: func(t *testing.T, p Payload) {
				assert.Nil(t, p.Season)
				assert.Nil(t, p.Episode)
				assert.Empty(t, p.Extra)
			},
		},
		{
			name: "values that do not fit go to Extra",
			raw:  `{"season":"two","episode":1.5,"movieId":{"tmdb":603},"query":["a"]}`,
			check: func(t *testing.T, p Payload) {
				assert.Nil(t, p.Season)
				assert.Nil(t, p.Episode)
				assert.Empty(t, p.ContentID)
				assert.Empty(t, p.SearchQuery)
				assert.JSONEq(t, `"two"`, string(p.Extra["season"]))
				assert.JSONEq(t, `1.5`, string(p.Extra["episode"]))
				assert.JSONEq(t, `{"tmdb":603}`, string(p.Extra["movieId"]))
				assert.JSONEq(t, `["a"]`, string(p.Extra["query"]))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			tt.check(t, p)
		})
	}
}

func TestPayloadMisfitRoundTrips(t *testing.T) {
	raw := `{"movieTitle":"Dune","season":"two","movieId":{"tmdb":438631}}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestPayloadRejectsUnparseableInput(t *testing.T) {
	tests := map[string]string{
		"string payload": `"hello"`,
		"array payload":  `[1,2]`,
		"truncated":      `{"season":`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var p Payload
			assert.Error(t, json.Unmarshal([]byte(raw), &p))
		})
	}
}

func TestPayloadNullIsEmpty(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.Equal(t, Payload{}, p)
}

func TestEventValidate(t *testing.T) {
	now := time.Now()
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		e    *Event
		want error
	}{
		{"valid", New("s1", "page_view", Payload{}, now), nil},
		{"missing kind", New("s1", "  ", Payload{}, now), ErrMissingEventKind},
		{"missing session", New("", "search", Payload{}, now), ErrMissingSessionID},
		{"long session", New(string(long), "search", Payload{}, now), nil},
		{"long kind", New("s1", string(long), Payload{}, now), ErrEventKindTooLong},
		{"no timestamp", &Event{ID: "x", SessionID: "s1", Kind: "search"}, ErrMissingTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	season := 1
	e := New("s1", KindEpisodeSelect, Payload{Season: &season}, time.Now())
	e.Geo = &Geo{Country: "US", LL: &[2]float64{1, 2}}

	c := e.Clone()
	*c.Payload.Season = 9
	c.Geo.Country = "FR"
	c.Geo.LL[0] = 5

	assert.Equal(t, 1, *e.Payload.Season)
	assert.Equal(t, "US", e.Geo.Country)
	assert.Equal(t, 1.0, e.Geo.LL[0])
}

func TestIsKnownKind(t *testing.T) {
	assert.True(t, IsKnownKind(KindVideoStart))
	assert.False(t, IsKnownKind("trailer_autoplay"))
}
