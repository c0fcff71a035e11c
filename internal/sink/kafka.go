package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/sqelf/pkg/clef"
)

func init() {
	Register("kafka", newKafka)
}

const (
	defaultKafkaBatchSize    = 100
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaCompression  = "snappy"
	defaultKafkaMaxAttempts  = 3
)

// KafkaConfig configures the Kafka output.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	KeyField     string        `mapstructure:"key_field"`     // event property used as message key, default "host"
	BatchSize    int           `mapstructure:"batch_size"`    // default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // default 3
	Async        bool          `mapstructure:"async"`
}

// kafkaWriter is the subset of *kafka.Writer used by the output.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaOutput struct {
	name     string
	keyField string
	writer   kafkaWriter
}

func newKafka(name string, options map[string]any) (Output, error) {
	cfg := KafkaConfig{
		KeyField:     "host",
		BatchSize:    defaultKafkaBatchSize,
		BatchTimeout: defaultKafkaBatchTimeout,
		Compression:  defaultKafkaCompression,
		MaxAttempts:  defaultKafkaMaxAttempts,
	}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	wc, err := kafkaWriterConfig(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("kafka output configured",
		"output", name,
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
	)
	return &kafkaOutput{name: name, keyField: cfg.KeyField, writer: kafka.NewWriter(wc)}, nil
}

func kafkaWriterConfig(cfg KafkaConfig) (kafka.WriterConfig, error) {
	if len(cfg.Brokers) == 0 {
		return kafka.WriterConfig{}, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return kafka.WriterConfig{}, fmt.Errorf("topic is required")
	}

	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same host, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: defaultDuration(cfg.BatchTimeout, defaultKafkaBatchTimeout),
		MaxAttempts:  cfg.MaxAttempts,
		Async:        cfg.Async,
	}

	switch cfg.Compression {
	case "none", "":
		wc.CompressionCodec = nil
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	case "zstd":
		wc.CompressionCodec = compress.Zstd.Codec()
	default:
		return kafka.WriterConfig{}, fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}
	return wc, nil
}

func (o *kafkaOutput) Name() string {
	return o.name
}

func (o *kafkaOutput) Write(ctx context.Context, ev *clef.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{Value: value, Time: time.Now()}
	if v, ok := ev.Get(o.keyField); ok {
		if s, ok := v.(string); ok {
			msg.Key = []byte(s)
		}
	}
	if err := o.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (o *kafkaOutput) Close() error {
	return o.writer.Close()
}
