package server

import (
	"net/netip"
	"time"
)

const defaultRateLimitWindow = 10 * time.Second

// sourceWindow counts datagrams from one source since start.
type sourceWindow struct {
	start time.Time
	count int
}

// SourceRateLimiter caps the datagrams accepted from one source address per
// window. Each source has its own window, opened by its first datagram.
//
// SourceRateLimiter is not safe for concurrent use; the receive loop owns it.
type SourceRateLimiter struct {
	window  time.Duration
	max     int
	sources map[netip.Addr]*sourceWindow
}

// SourceRateLimiterConfig configures per-source rate limiting.
type SourceRateLimiterConfig struct {
	MaxPerSource int           // 0 = disabled
	Window       time.Duration // default 10s
}

// NewSourceRateLimiter returns nil when the limit is disabled.
func NewSourceRateLimiter(cfg SourceRateLimiterConfig) *SourceRateLimiter {
	if cfg.MaxPerSource <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateLimitWindow
	}
	return &SourceRateLimiter{
		window:  cfg.Window,
		max:     cfg.MaxPerSource,
		sources: make(map[netip.Addr]*sourceWindow),
	}
}

// Allow counts a datagram from src received at now and reports whether the
// source is still under its limit. IPv4-mapped IPv6 sources count as IPv4.
func (l *SourceRateLimiter) Allow(src netip.Addr, now time.Time) bool {
	src = src.Unmap()
	w, ok := l.sources[src]
	if !ok || now.Sub(w.start) >= l.window {
		l.sources[src] = &sourceWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.max
}

// Prune forgets sources whose window has closed and returns how many are
// still tracked.
func (l *SourceRateLimiter) Prune(now time.Time) int {
	for src, w := range l.sources {
		if now.Sub(w.start) >= l.window {
			delete(l.sources, src)
		}
	}
	return len(l.sources)
}
