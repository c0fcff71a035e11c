// Package receive turns raw GELF datagrams into decoded messages.
package receive

import (
	"container/list"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/sqelf/internal/core"
	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/pkg/gelf"
)

// Chunk buffer defaults.
const (
	DefaultMaxIncomplete     = 1024
	DefaultIncompleteTimeout = 5 * time.Second
	DefaultMaxMessageSize    = 512 * 1024
)

// Eviction reasons, used as metric labels.
const (
	evictExpired  = "expired"
	evictCapacity = "capacity"
	evictOversize = "oversize"
)

// InsertResult reports what happened to an inserted chunk.
type InsertResult int

const (
	// Rejected means the chunk was dropped; the accompanying error says why.
	Rejected InsertResult = iota
	// Pending means the message is still missing chunks.
	Pending
	// Completed means the chunk finished the message.
	Completed
	// Duplicate means the index was already buffered; nothing changed.
	Duplicate
)

func (r InsertResult) String() string {
	switch r {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// ChunkBufferConfig bounds the memory held by partial messages.
type ChunkBufferConfig struct {
	Capacity       int           // max partial messages in flight (default 1024)
	Expiry         time.Duration // max age of a partial message (default 5s)
	MaxChunks      int           // max chunks per message (default 128, at most 255)
	MaxMessageSize int           // max reassembled bytes per message (default 512KiB)
}

// partial is a message with some of its chunks received.
type partial struct {
	id        gelf.MessageID
	count     uint8
	chunks    [][]byte
	seen      []bool
	have      int
	size      int
	firstSeen time.Time
	elem      *list.Element
}

// ChunkBuffer accumulates chunks until every index of a message has arrived.
// Entries are kept in arrival order of their first chunk, so the front of
// the list is always the oldest partial message.
//
// ChunkBuffer is not safe for concurrent use.
type ChunkBuffer struct {
	config  ChunkBufferConfig
	entries map[gelf.MessageID]*partial
	order   list.List // of *partial, oldest first
	logger  *slog.Logger
}

// NewChunkBuffer creates an empty chunk buffer.
func NewChunkBuffer(cfg ChunkBufferConfig) *ChunkBuffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultMaxIncomplete
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultIncompleteTimeout
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = gelf.MaxChunks
	}
	if cfg.MaxChunks > 255 {
		cfg.MaxChunks = 255
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &ChunkBuffer{
		config:  cfg,
		entries: make(map[gelf.MessageID]*partial, cfg.Capacity),
		logger:  slog.With("component", "chunk_buffer"),
	}
}

// Insert adds a chunk received at now.
//
// Returns:
//   - (Completed, payload, nil) when c was the last missing chunk; payload is
//     the chunk payloads joined in index order. A single-chunk message
//     completes immediately and its payload aliases c.Payload.
//   - (Pending, nil, nil) while other chunks are missing.
//   - (Duplicate, nil, nil) when c.Index was already received.
//   - (Rejected, nil, err) when the chunk is malformed, over a limit or
//     conflicts with the buffered sequence count.
func (b *ChunkBuffer) Insert(c gelf.Chunk, now time.Time) (InsertResult, []byte, error) {
	res, payload, err := b.insert(c, now)
	metrics.ChunksTotal.WithLabelValues(res.String()).Inc()
	metrics.ChunkBufferMessages.Set(float64(len(b.entries)))
	return res, payload, err
}

func (b *ChunkBuffer) insert(c gelf.Chunk, now time.Time) (InsertResult, []byte, error) {
	if c.Count == 0 || c.Index >= c.Count {
		return Rejected, nil, fmt.Errorf("%w: message %s index %d count %d",
			core.ErrChunkMalformed, c.ID, c.Index, c.Count)
	}
	if int(c.Count) > b.config.MaxChunks {
		return Rejected, nil, fmt.Errorf("%w: message %s declares %d chunks, limit is %d",
			core.ErrChunkLimit, c.ID, c.Count, b.config.MaxChunks)
	}
	if len(c.Payload) > b.config.MaxMessageSize {
		return Rejected, nil, fmt.Errorf("%w: chunk of message %s carries %d bytes",
			core.ErrMessageTooLarge, c.ID, len(c.Payload))
	}
	if c.Count == 1 {
		return Completed, c.Payload, nil
	}

	p, ok := b.entries[c.ID]
	if ok && b.expired(p, now) {
		// Stale state must not complete with fresh chunks.
		b.evict(p, evictExpired)
		ok = false
	}

	if !ok {
		if len(b.entries) >= b.config.Capacity {
			oldest := b.order.Front().Value.(*partial)
			b.evict(oldest, evictCapacity)
		}
		firstSeen := now
		if back := b.order.Back(); back != nil {
			// Keep the list sorted by firstSeen if the clock steps back.
			if last := back.Value.(*partial).firstSeen; now.Before(last) {
				firstSeen = last
			}
		}
		p = &partial{
			id:        c.ID,
			count:     c.Count,
			chunks:    make([][]byte, c.Count),
			seen:      make([]bool, c.Count),
			firstSeen: firstSeen,
		}
		p.elem = b.order.PushBack(p)
		b.entries[c.ID] = p
	} else if p.count != c.Count {
		return Rejected, nil, fmt.Errorf("%w: message %s buffered with %d chunks, got chunk claiming %d",
			core.ErrChunkConflict, c.ID, p.count, c.Count)
	}

	if p.seen[c.Index] {
		return Duplicate, nil, nil
	}

	if p.size+len(c.Payload) > b.config.MaxMessageSize {
		b.evict(p, evictOversize)
		return Rejected, nil, fmt.Errorf("%w: message %s exceeds %d bytes",
			core.ErrMessageTooLarge, c.ID, b.config.MaxMessageSize)
	}

	// The datagram buffer is reused by the caller.
	p.chunks[c.Index] = append([]byte(nil), c.Payload...)
	p.seen[c.Index] = true
	p.have++
	p.size += len(c.Payload)

	if p.have < int(p.count) {
		return Pending, nil, nil
	}

	payload := make([]byte, 0, p.size)
	for _, chunk := range p.chunks {
		payload = append(payload, chunk...)
	}
	b.remove(p)
	return Completed, payload, nil
}

// EvictExpired drops every partial message older than the expiry and
// returns how many were dropped. The scan stops at the first live entry.
func (b *ChunkBuffer) EvictExpired(now time.Time) int {
	evicted := 0
	for e := b.order.Front(); e != nil; e = b.order.Front() {
		p := e.Value.(*partial)
		if !b.expired(p, now) {
			break
		}
		b.evict(p, evictExpired)
		evicted++
	}
	metrics.ChunkBufferMessages.Set(float64(len(b.entries)))
	return evicted
}

// Len returns the number of partial messages held.
func (b *ChunkBuffer) Len() int {
	return len(b.entries)
}

func (b *ChunkBuffer) expired(p *partial, now time.Time) bool {
	return now.Sub(p.firstSeen) > b.config.Expiry
}

func (b *ChunkBuffer) evict(p *partial, reason string) {
	b.remove(p)
	metrics.ChunkBufferEvictionsTotal.WithLabelValues(reason).Inc()
	b.logger.Debug("partial message discarded",
		"message_id", p.id,
		"reason", reason,
		"received", p.have,
		"count", p.count,
		"first_seen", p.firstSeen,
	)
}

func (b *ChunkBuffer) remove(p *partial) {
	b.order.Remove(p.elem)
	delete(b.entries, p.id)
}
