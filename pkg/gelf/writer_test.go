package gelf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// datagramRecorder keeps each Write as a separate datagram.
type datagramRecorder struct {
	datagrams [][]byte
}

func (r *datagramRecorder) Write(p []byte) (int, error) {
	r.datagrams = append(r.datagrams, bytes.Clone(p))
	return len(p), nil
}

func TestWriter_SingleDatagram(t *testing.T) {
	rec := &datagramRecorder{}
	w := NewWriter(rec, WriterConfig{Compression: CompressionGzip})

	require.NoError(t, w.WriteMessage(&Message{Host: "h", ShortMessage: "hello"}))
	require.Len(t, rec.datagrams, 1)
	assert.Equal(t, FormatGzip, Classify(rec.datagrams[0]))

	body, err := Decompress(FormatGzip, rec.datagrams[0], MaxDatagramSize)
	require.NoError(t, err)
	m, err := ParseMessage(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.ShortMessage)
}

func TestWriter_Chunked(t *testing.T) {
	rec := &datagramRecorder{}
	w := NewWriter(rec, WriterConfig{ChunkSize: 64})

	long := strings.Repeat("x", 500)
	require.NoError(t, w.WriteMessage(&Message{Host: "h", ShortMessage: long}))
	require.Greater(t, len(rec.datagrams), 1)

	var joined []byte
	var id MessageID
	for i, d := range rec.datagrams {
		assert.Equal(t, FormatChunked, Classify(d))
		c, err := ParseChunk(d)
		require.NoError(t, err)
		if i == 0 {
			id = c.ID
		}
		assert.Equal(t, id, c.ID)
		joined = append(joined, c.Payload...)
	}

	m, err := ParseMessage(joined)
	require.NoError(t, err)
	assert.Equal(t, long, m.ShortMessage)
}
