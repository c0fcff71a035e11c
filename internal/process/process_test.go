package process

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqelf/pkg/clef"
	"firestige.xyz/sqelf/pkg/gelf"
)

func parse(t *testing.T, doc string) *gelf.Message {
	t.Helper()
	m, err := gelf.ParseMessage([]byte(doc))
	require.NoError(t, err)
	return m
}

func get(t *testing.T, ev *clef.Event, key string) any {
	t.Helper()
	v, ok := ev.Get(key)
	require.True(t, ok, "missing property %s", key)
	return v
}

func TestToEvent(t *testing.T) {
	p := New(Config{})
	msg := parse(t, `{
		"version": "1.1",
		"host": "example.org",
		"short_message": "A short message",
		"full_message": "Backtrace here\n\nmore stuff",
		"timestamp": 1385053862.3072,
		"level": 1,
		"facility": "payments",
		"line": 12,
		"_user_id": 9001,
		"_some_info": "foo"
	}`)

	ev := p.ToEvent(msg, time.Now())

	assert.Equal(t, "2013-11-21T17:11:02.3072Z", get(t, ev, clef.Timestamp))
	assert.Equal(t, "alert", get(t, ev, clef.Level))
	assert.Equal(t, "A short message", get(t, ev, clef.Message))
	assert.Equal(t, "Backtrace here\n\nmore stuff", get(t, ev, clef.Exception))
	assert.Equal(t, "example.org", get(t, ev, "host"))
	assert.Equal(t, "payments", get(t, ev, "facility"))
	assert.Equal(t, 12, get(t, ev, "line"))
	assert.Equal(t, json.Number("9001"), get(t, ev, "user_id"))
	assert.Equal(t, "foo", get(t, ev, "some_info"))
	assert.False(t, ev.Has("level"))
}

func TestToEvent_Defaults(t *testing.T) {
	p := New(Config{})
	received := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600))

	ev := p.ToEvent(parse(t, `{"host":"h","short_message":"same","full_message":"same"}`), received)

	assert.Equal(t, "2024-05-06T06:08:09Z", get(t, ev, clef.Timestamp))
	assert.Equal(t, "info", get(t, ev, clef.Level))
	assert.False(t, ev.Has(clef.Exception), "identical full message is not repeated")
}

func TestToEvent_PropertyCollisions(t *testing.T) {
	p := New(Config{IncludeRawLevel: true})
	ev := p.ToEvent(parse(t, `{"host":"h","short_message":"m","level":3,"_host":"inner","_@m":"x","_level":"custom"}`), time.Now())

	assert.Equal(t, "h", get(t, ev, "host"))
	assert.Equal(t, "inner", get(t, ev, "_host"))
	assert.Equal(t, "x", get(t, ev, "_@m"))
	assert.Equal(t, 3, get(t, ev, "level"))
	assert.Equal(t, "custom", get(t, ev, "_level"))
	assert.Equal(t, "m", get(t, ev, clef.Message))
}

func TestLevelName(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{0, "emerg"},
		{3, "err"},
		{4, "warning"},
		{7, "debug"},
		{8, "8"},
		{-1, "-1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelName(tt.level))
	}
}
