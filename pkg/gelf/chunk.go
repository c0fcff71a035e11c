package gelf

import (
	"encoding/hex"
	"fmt"

	"firestige.xyz/sqelf/internal/core"
)

// MessageID correlates the chunks of one message.
type MessageID [8]byte

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Chunk is one fragment of a chunked message.
type Chunk struct {
	ID      MessageID
	Index   uint8
	Count   uint8
	Payload []byte
}

// ParseChunk decodes a chunked datagram. The returned payload aliases b.
func ParseChunk(b []byte) (Chunk, error) {
	if len(b) < ChunkHeaderLen {
		return Chunk{}, fmt.Errorf("%w: %d bytes is shorter than the chunk header", core.ErrChunkMalformed, len(b))
	}
	if b[0] != magicChunked[0] || b[1] != magicChunked[1] {
		return Chunk{}, fmt.Errorf("%w: missing chunk magic", core.ErrChunkMalformed)
	}

	var c Chunk
	copy(c.ID[:], b[2:10])
	c.Index = b[10]
	c.Count = b[11]
	c.Payload = b[ChunkHeaderLen:]

	if c.Count == 0 {
		return Chunk{}, fmt.Errorf("%w: message %s declares zero chunks", core.ErrChunkMalformed, c.ID)
	}
	if c.Index >= c.Count {
		return Chunk{}, fmt.Errorf("%w: message %s index %d out of range for count %d",
			core.ErrChunkMalformed, c.ID, c.Index, c.Count)
	}
	return c, nil
}

// AppendChunk appends the wire form of c to dst.
func AppendChunk(dst []byte, c Chunk) []byte {
	dst = append(dst, magicChunked[0], magicChunked[1])
	dst = append(dst, c.ID[:]...)
	dst = append(dst, c.Index, c.Count)
	return append(dst, c.Payload...)
}
