// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsTotal counts datagrams read from the socket by outcome
	// (decoded, pending, dropped, rate_limited).
	DatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_datagrams_total",
			Help: "Total number of datagrams received",
		},
		[]string{"outcome"},
	)

	// DatagramBytes tracks datagram size distribution
	DatagramBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqelf_datagram_bytes",
			Help:    "Size of received datagrams in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 11), // 64B to 64KiB
		},
	)

	// ChunksTotal counts chunk insertions by result
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_chunks_total",
			Help: "Total number of chunks inserted into the chunk buffer",
		},
		[]string{"result"},
	)

	// ChunkBufferMessages tracks partial messages awaiting reassembly
	ChunkBufferMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqelf_chunk_buffer_messages",
			Help: "Number of partial messages in the chunk buffer",
		},
	)

	// ChunkBufferEvictionsTotal counts discarded partial messages by reason
	// (expired, capacity, oversize).
	ChunkBufferEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_chunk_buffer_evictions_total",
			Help: "Total number of partial messages evicted from the chunk buffer",
		},
		[]string{"reason"},
	)

	// DecodeErrorsTotal counts dropped datagrams by decode failure reason
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_decode_errors_total",
			Help: "Total number of datagrams dropped by the decoder",
		},
		[]string{"reason"},
	)

	// MessagesTotal counts decoded messages by payload format
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_messages_total",
			Help: "Total number of decoded GELF messages",
		},
		[]string{"format"},
	)

	// SinkErrorsTotal counts failed downstream deliveries
	SinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqelf_sink_errors_total",
			Help: "Total number of messages the downstream sink failed to accept",
		},
	)

	// HandoffQueueDepth tracks messages waiting in the handoff queue
	HandoffQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqelf_handoff_queue_depth",
			Help: "Number of decoded messages waiting for the sink",
		},
	)

	// HandoffDroppedTotal counts messages dropped because the queue stayed full
	HandoffDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqelf_handoff_dropped_total",
			Help: "Total number of messages dropped on a full handoff queue",
		},
	)

	// RateLimitSources tracks source addresses with an open rate-limit window
	RateLimitSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqelf_rate_limit_sources",
			Help: "Number of source addresses tracked by the rate limiter",
		},
	)

	// OutputEventsTotal counts events written by each output
	OutputEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqelf_output_events_total",
			Help: "Total number of events written per output",
		},
		[]string{"output", "status"},
	)
)
