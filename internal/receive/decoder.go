package receive

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/sqelf/internal/core"
	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/pkg/gelf"
)

// Config configures a Decoder.
type Config struct {
	MaxIncomplete     int           // max partial messages buffered
	IncompleteTimeout time.Duration // age after which a partial message is dropped
	MaxChunks         int           // max chunks a message may declare
	MaxMessageSize    int           // max reassembled or decompressed size in bytes
}

// Decoder classifies datagrams, reassembles chunked messages and parses
// the GELF payload. Only the chunk buffer carries state between calls.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	chunks         *ChunkBuffer
	maxMessageSize int
	now            func() time.Time
}

// NewDecoder creates a Decoder with an empty chunk buffer.
func NewDecoder(cfg Config) *Decoder {
	chunks := NewChunkBuffer(ChunkBufferConfig{
		Capacity:       cfg.MaxIncomplete,
		Expiry:         cfg.IncompleteTimeout,
		MaxChunks:      cfg.MaxChunks,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	return &Decoder{
		chunks:         chunks,
		maxMessageSize: chunks.config.MaxMessageSize,
		now:            time.Now,
	}
}

// Decode turns one datagram into a message.
//
// Returns (nil, nil) when the datagram is a chunk of a message that is not
// complete yet. Every error is scoped to this datagram; the Decoder stays
// usable. The datagram is not retained.
func (d *Decoder) Decode(datagram []byte) (*gelf.Message, error) {
	msg, format, err := d.decode(datagram)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}
	if msg != nil {
		metrics.MessagesTotal.WithLabelValues(format.String()).Inc()
	}
	return msg, nil
}

func (d *Decoder) decode(datagram []byte) (*gelf.Message, gelf.Format, error) {
	if gelf.Classify(datagram) != gelf.FormatChunked {
		return d.decodePayload(datagram)
	}

	chunk, err := gelf.ParseChunk(datagram)
	if err != nil {
		return nil, gelf.FormatChunked, err
	}
	res, payload, err := d.chunks.Insert(chunk, d.now())
	if err != nil {
		return nil, gelf.FormatChunked, err
	}
	if res != Completed {
		return nil, gelf.FormatChunked, nil
	}

	// Chunking and compression compose: the joined body is usually compressed.
	msg, _, err := d.decodePayload(payload)
	return msg, gelf.FormatChunked, err
}

func (d *Decoder) decodePayload(b []byte) (*gelf.Message, gelf.Format, error) {
	var body []byte
	format := gelf.Classify(b)
	switch format {
	case gelf.FormatGzip, gelf.FormatZlib:
		out, err := gelf.Decompress(format, b, d.maxMessageSize)
		if err != nil {
			return nil, format, err
		}
		body = out
	case gelf.FormatRaw:
		if len(b) > d.maxMessageSize {
			return nil, format, fmt.Errorf("%w: %d bytes", core.ErrMessageTooLarge, len(b))
		}
		body = b
	case gelf.FormatChunked:
		return nil, format, fmt.Errorf("%w: reassembled payload is itself chunked", core.ErrChunkMalformed)
	default:
		return nil, format, fmt.Errorf("%w: leading bytes % x", core.ErrUnknownMagic, b[:min(len(b), 2)])
	}

	msg, err := gelf.ParseMessage(body)
	if err != nil {
		return nil, format, err
	}
	return msg, format, nil
}

// EvictExpired drops partial messages older than the configured timeout.
func (d *Decoder) EvictExpired(now time.Time) int {
	return d.chunks.EvictExpired(now)
}

// Pending returns the number of partial messages buffered.
func (d *Decoder) Pending() int {
	return d.chunks.Len()
}

// errorReason maps a decode error to a short metric label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, core.ErrUnknownMagic):
		return "unknown_magic"
	case errors.Is(err, core.ErrChunkMalformed):
		return "malformed_chunk"
	case errors.Is(err, core.ErrChunkConflict):
		return "chunk_conflict"
	case errors.Is(err, core.ErrChunkLimit):
		return "chunk_limit"
	case errors.Is(err, core.ErrMessageTooLarge):
		return "too_large"
	case errors.Is(err, core.ErrDecompress):
		return "decompress"
	case errors.Is(err, core.ErrInvalidMessage):
		return "invalid_message"
	default:
		return "other"
	}
}
