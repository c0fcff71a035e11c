package gelf

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"firestige.xyz/sqelf/internal/core"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	ChunkSize   int // datagram size, default ChunkSize
	Compression Compression
}

// Writer sends GELF messages as datagrams, chunking them when they do not
// fit in one. Each Write on the underlying writer must produce one datagram,
// as it does for a connected *net.UDPConn.
type Writer struct {
	w      io.Writer
	config WriterConfig
}

// NewWriter creates a Writer on top of a datagram connection.
func NewWriter(w io.Writer, cfg WriterConfig) *Writer {
	if cfg.ChunkSize <= ChunkHeaderLen {
		cfg.ChunkSize = ChunkSize
	}
	return &Writer{w: w, config: cfg}
}

// WriteMessage encodes, compresses and sends m.
func (w *Writer) WriteMessage(m *Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return w.WritePayload(body)
}

// WritePayload compresses and sends an already encoded GELF document.
func (w *Writer) WritePayload(body []byte) error {
	payload, err := Compress(w.config.Compression, body)
	if err != nil {
		return fmt.Errorf("compress message: %w", err)
	}

	if len(payload) <= w.config.ChunkSize {
		_, err := w.w.Write(payload)
		return err
	}

	id, err := NewMessageID()
	if err != nil {
		return err
	}
	datagrams, err := Split(payload, id, w.config.ChunkSize)
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if _, err := w.w.Write(d); err != nil {
			return err
		}
	}
	return nil
}

// NewMessageID returns a random message id.
func NewMessageID() (MessageID, error) {
	var id MessageID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}

// Split cuts payload into chunked datagrams of at most chunkSize bytes.
func Split(payload []byte, id MessageID, chunkSize int) ([][]byte, error) {
	dataLen := chunkSize - ChunkHeaderLen
	if dataLen <= 0 {
		return nil, fmt.Errorf("chunk size %d leaves no room for payload", chunkSize)
	}
	count := (len(payload) + dataLen - 1) / dataLen
	if count == 0 {
		count = 1
	}
	if count > MaxChunks {
		return nil, fmt.Errorf("%w: %d bytes needs %d chunks, limit is %d",
			core.ErrMessageTooLarge, len(payload), count, MaxChunks)
	}

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		end := min((i+1)*dataLen, len(payload))
		c := Chunk{ID: id, Index: uint8(i), Count: uint8(count), Payload: payload[i*dataLen : end]}
		out = append(out, AppendChunk(make([]byte, 0, ChunkHeaderLen+end-i*dataLen), c))
	}
	return out, nil
}
