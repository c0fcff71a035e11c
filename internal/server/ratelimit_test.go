package server

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRateLimiter_DisabledIsNil(t *testing.T) {
	assert.Nil(t, NewSourceRateLimiter(SourceRateLimiterConfig{}))
	assert.Nil(t, NewSourceRateLimiter(SourceRateLimiterConfig{MaxPerSource: -1}))
}

func TestSourceRateLimiter_Allow(t *testing.T) {
	start := time.Unix(1700000000, 0)
	a := netip.MustParseAddr("192.0.2.1")
	b := netip.MustParseAddr("2001:db8::1")

	tests := []struct {
		name string
		src  netip.Addr
		at   time.Duration
		want bool
	}{
		{"a first", a, 0, true},
		{"a second", a, time.Second, true},
		{"a over limit", a, 2 * time.Second, false},
		{"b has its own window", b, 2 * time.Second, true},
		{"mapped a shares a's window", netip.MustParseAddr("::ffff:192.0.2.1"), 3 * time.Second, false},
		{"a window closed", a, 10 * time.Second, true},
		{"b still open", b, 10 * time.Second, true},
		{"b over limit", b, 11 * time.Second, false},
	}

	l := NewSourceRateLimiter(SourceRateLimiterConfig{MaxPerSource: 2, Window: 10 * time.Second})
	require.NotNil(t, l)
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Allow(tt.src, start.Add(tt.at)), tt.name)
	}
}

func TestSourceRateLimiter_Prune(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l := NewSourceRateLimiter(SourceRateLimiterConfig{MaxPerSource: 1, Window: time.Second})

	l.Allow(netip.MustParseAddr("10.0.0.1"), start)
	l.Allow(netip.MustParseAddr("10.0.0.2"), start.Add(500*time.Millisecond))

	assert.Equal(t, 2, l.Prune(start.Add(900*time.Millisecond)))
	assert.Equal(t, 1, l.Prune(start.Add(time.Second)))
	assert.Equal(t, 0, l.Prune(start.Add(2*time.Second)))

	// A pruned source starts a fresh window.
	assert.True(t, l.Allow(netip.MustParseAddr("10.0.0.1"), start.Add(2*time.Second)))
}
