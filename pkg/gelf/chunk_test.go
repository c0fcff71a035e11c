package gelf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqelf/internal/core"
)

func TestParseChunk(t *testing.T) {
	id := MessageID{1, 2, 3, 4, 5, 6, 7, 8}
	wire := AppendChunk(nil, Chunk{ID: id, Index: 1, Count: 3, Payload: []byte("B")})

	c, err := ParseChunk(wire)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, uint8(1), c.Index)
	assert.Equal(t, uint8(3), c.Count)
	assert.Equal(t, []byte("B"), c.Payload)
	assert.Equal(t, "0102030405060708", c.ID.String())
}

func TestParseChunk_Malformed(t *testing.T) {
	id := MessageID{9}
	tests := []struct {
		name string
		in   []byte
	}{
		{"short header", []byte{0x1e, 0x0f, 1, 2, 3}},
		{"bad magic", append([]byte{0x1e, 0x0e}, make([]byte, 10)...)},
		{"zero count", AppendChunk(nil, Chunk{ID: id, Index: 0, Count: 0})},
		{"index equals count", AppendChunk(nil, Chunk{ID: id, Index: 2, Count: 2})},
		{"index beyond count", AppendChunk(nil, Chunk{ID: id, Index: 200, Count: 3})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChunk(tt.in)
			assert.ErrorIs(t, err, core.ErrChunkMalformed)
		})
	}
}

func TestParseChunk_EmptyPayload(t *testing.T) {
	c, err := ParseChunk(AppendChunk(nil, Chunk{Index: 0, Count: 1}))
	require.NoError(t, err)
	assert.Empty(t, c.Payload)
}

func TestSplit(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100)
	id := MessageID{0xaa}

	datagrams, err := Split(payload, id, 112)
	require.NoError(t, err)
	require.Len(t, datagrams, 10)

	var joined []byte
	for i, d := range datagrams {
		assert.LessOrEqual(t, len(d), 112)
		c, err := ParseChunk(d)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), c.Index)
		assert.Equal(t, uint8(10), c.Count)
		assert.Equal(t, id, c.ID)
		joined = append(joined, c.Payload...)
	}
	assert.Equal(t, payload, joined)
}

func TestSplit_TooManyChunks(t *testing.T) {
	payload := make([]byte, (MaxChunks+1)*10)
	_, err := Split(payload, MessageID{}, ChunkHeaderLen+10)
	assert.ErrorIs(t, err, core.ErrMessageTooLarge)
}

func TestSplit_ChunkSizeTooSmall(t *testing.T) {
	_, err := Split([]byte("x"), MessageID{}, ChunkHeaderLen)
	assert.Error(t, err)
}
