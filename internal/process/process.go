// Package process maps decoded GELF messages to CLEF events.
package process

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/sqelf/pkg/clef"
	"firestige.xyz/sqelf/pkg/gelf"
)

// syslogLevels names GELF (syslog) severities 0-7.
var syslogLevels = [...]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

const defaultLevel = "info"

// Config configures a Processor.
type Config struct {
	// IncludeRawLevel keeps the numeric GELF level as a "level" property.
	IncludeRawLevel bool
}

// Processor builds CLEF events from GELF messages.
type Processor struct {
	config Config
}

// New creates a Processor.
func New(cfg Config) *Processor {
	return &Processor{config: cfg}
}

// LevelName returns the syslog name for a GELF level.
func LevelName(level int) string {
	if level < 0 || level >= len(syslogLevels) {
		return strconv.Itoa(level)
	}
	return syslogLevels[level]
}

// ToEvent maps msg to an event. received stamps messages that carry no
// timestamp of their own.
func (p *Processor) ToEvent(msg *gelf.Message, received time.Time) *clef.Event {
	ev := &clef.Event{}

	ts := received
	if msg.Timestamp != nil {
		ts = unixSeconds(*msg.Timestamp)
	}
	ev.Set(clef.Timestamp, ts.UTC().Format(time.RFC3339Nano))

	level := defaultLevel
	if msg.Level != nil {
		level = LevelName(*msg.Level)
	}
	ev.Set(clef.Level, level)
	ev.Set(clef.Message, msg.ShortMessage)
	if msg.FullMessage != nil && *msg.FullMessage != msg.ShortMessage {
		ev.Set(clef.Exception, *msg.FullMessage)
	}

	ev.Set("host", msg.Host)
	if msg.Facility != "" {
		ev.Set("facility", msg.Facility)
	}
	if msg.File != "" {
		ev.Set("file", msg.File)
	}
	if msg.Line != nil {
		ev.Set("line", *msg.Line)
	}
	if p.config.IncludeRawLevel && msg.Level != nil {
		ev.Set("level", *msg.Level)
	}

	keys := make([]string, 0, len(msg.Additional))
	for k := range msg.Additional {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.TrimPrefix(k, "_")
		// Keep the underscore when the bare name would shadow a mapped property.
		if strings.HasPrefix(name, "@") || ev.Has(name) {
			name = k
		}
		ev.Set(name, msg.Additional[k])
	}

	return ev
}

// unixSeconds converts fractional epoch seconds to a time with
// microsecond precision.
func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
}
