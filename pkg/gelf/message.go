package gelf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"firestige.xyz/sqelf/internal/core"
)

// Message is a decoded GELF payload.
//
// Example:
//
//	{
//	  "version": "1.1",
//	  "host": "example.org",
//	  "short_message": "A short message that helps you identify what is going on",
//	  "full_message": "Backtrace here\n\nmore stuff",
//	  "timestamp": 1385053862.3072,
//	  "level": 1,
//	  "_user_id": 9001,
//	  "_some_info": "foo"
//	}
type Message struct {
	Version      string
	Host         string
	ShortMessage string
	FullMessage  *string
	Timestamp    *float64 // seconds since the epoch, fractional
	Level        *int     // syslog severity
	Facility     string
	File         string
	Line         *int

	// Additional holds underscore-prefixed fields keyed by their full
	// name, including the underscore. Numbers are kept as json.Number.
	Additional map[string]any
}

// Reserved top-level field names.
const (
	fieldVersion      = "version"
	fieldHost         = "host"
	fieldShortMessage = "short_message"
	fieldFullMessage  = "full_message"
	fieldTimestamp    = "timestamp"
	fieldLevel        = "level"
	fieldFacility     = "facility"
	fieldFile         = "file"
	fieldLine         = "line"

	// fieldReservedID is libgelf's internal id and is never accepted as an
	// additional field.
	fieldReservedID = "_id"
)

// ParseMessage deserializes a GELF JSON document. host and short_message
// are required; unknown fields without an underscore prefix are dropped.
func ParseMessage(b []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidMessage, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", core.ErrInvalidMessage)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", core.ErrInvalidMessage)
	}

	m := &Message{}
	var err error
	for k, v := range raw {
		switch k {
		case fieldVersion:
			m.Version, err = stringField(k, v)
		case fieldHost:
			m.Host, err = stringField(k, v)
		case fieldShortMessage:
			m.ShortMessage, err = stringField(k, v)
		case fieldFullMessage:
			var s string
			if s, err = stringField(k, v); err == nil {
				m.FullMessage = &s
			}
		case fieldTimestamp:
			var f float64
			if f, err = floatField(k, v); err == nil {
				m.Timestamp = &f
			}
		case fieldLevel:
			var n int
			if n, err = intField(k, v); err == nil {
				m.Level = &n
			}
		case fieldFacility:
			m.Facility, err = stringField(k, v)
		case fieldFile:
			m.File, err = stringField(k, v)
		case fieldLine:
			var n int
			if n, err = intField(k, v); err == nil {
				m.Line = &n
			}
		default:
			if !strings.HasPrefix(k, "_") || k == fieldReservedID || len(k) == 1 {
				continue
			}
			if m.Additional == nil {
				m.Additional = make(map[string]any)
			}
			m.Additional[k] = v
		}
		if err != nil {
			return nil, err
		}
	}

	if _, ok := raw[fieldHost]; !ok || m.Host == "" {
		return nil, fmt.Errorf("%w: missing host", core.ErrInvalidMessage)
	}
	if _, ok := raw[fieldShortMessage]; !ok {
		return nil, fmt.Errorf("%w: missing short_message", core.ErrInvalidMessage)
	}
	return m, nil
}

// MarshalJSON renders the message back to its GELF document.
func (m *Message) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(m.Additional)+9)
	for k, v := range m.Additional {
		doc[k] = v
	}
	if m.Version != "" {
		doc[fieldVersion] = m.Version
	}
	doc[fieldHost] = m.Host
	doc[fieldShortMessage] = m.ShortMessage
	if m.FullMessage != nil {
		doc[fieldFullMessage] = *m.FullMessage
	}
	if m.Timestamp != nil {
		doc[fieldTimestamp] = *m.Timestamp
	}
	if m.Level != nil {
		doc[fieldLevel] = *m.Level
	}
	if m.Facility != "" {
		doc[fieldFacility] = m.Facility
	}
	if m.File != "" {
		doc[fieldFile] = m.File
	}
	if m.Line != nil {
		doc[fieldLine] = *m.Line
	}
	return json.Marshal(doc)
}

func stringField(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", core.ErrInvalidMessage, name, v)
	}
	return s, nil
}

func floatField(name string, v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", core.ErrInvalidMessage, name, v)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", core.ErrInvalidMessage, name, err)
	}
	return f, nil
}

// intField accepts integral numbers, including ones written as 3.0.
func intField(name string, v any) (int, error) {
	f, err := floatField(name, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", core.ErrInvalidMessage, name, v)
	}
	return int(f), nil
}
