// Package clef models Compact Log Event Format events: flat JSON objects
// whose well-known properties carry an "@" prefix.
package clef

import (
	"bytes"
	"encoding/json"
)

// Well-known property names.
const (
	Timestamp = "@t"
	Message   = "@m"
	Level     = "@l"
	Exception = "@x"
)

// Field is one property of an event.
type Field struct {
	Key   string
	Value any
}

// Event is an ordered set of properties. Keys are unique; Set replaces an
// existing key in place.
type Event struct {
	fields []Field
}

// Set adds or replaces a property.
func (e *Event) Set(key string, value any) {
	for i := range e.fields {
		if e.fields[i].Key == key {
			e.fields[i].Value = value
			return
		}
	}
	e.fields = append(e.fields, Field{Key: key, Value: value})
}

// Get returns the value of a property.
func (e *Event) Get(key string) (any, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether the property is set.
func (e *Event) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Fields returns the properties in insertion order.
func (e *Event) Fields() []Field {
	return e.fields
}

// Len returns the number of properties.
func (e *Event) Len() int {
	return len(e.fields)
}

// Map returns the properties as a map, for encoders that take one.
func (e *Event) Map() map[string]any {
	m := make(map[string]any, len(e.fields))
	for _, f := range e.fields {
		m[f.Key] = f.Value
	}
	return m
}

// MarshalJSON writes the properties as one JSON object, in order.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
