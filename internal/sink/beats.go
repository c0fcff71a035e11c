package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	lumberjack "github.com/elastic/go-lumber/client/v2"

	"firestige.xyz/sqelf/pkg/clef"
)

func init() {
	Register("beats", newBeats)
}

// BeatsConfig configures the Beats (lumberjack v2) output, for Logstash or
// any other Beats-protocol receiver.
type BeatsConfig struct {
	Endpoint         string        `mapstructure:"endpoint"` // required, host:port
	Timeout          time.Duration `mapstructure:"timeout"`  // default 3s
	CompressionLevel int           `mapstructure:"compression_level"`
}

// lumberClient is the subset of *lumberjack.SyncClient used by the output.
type lumberClient interface {
	Send(data []interface{}) (int, error)
	Close() error
}

type beatsOutput struct {
	name string
	dial func() (lumberClient, error)

	mu     sync.Mutex
	client lumberClient
}

func newBeats(name string, options map[string]any) (Output, error) {
	var cfg BeatsConfig
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("beats output requires 'endpoint' field")
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("compression_level must be between 0 and 9, got %d", cfg.CompressionLevel)
	}
	timeout := defaultDuration(cfg.Timeout, 3*time.Second)

	return &beatsOutput{
		name: name,
		dial: func() (lumberClient, error) {
			c, err := lumberjack.SyncDial(cfg.Endpoint,
				lumberjack.CompressionLevel(cfg.CompressionLevel),
				lumberjack.Timeout(timeout),
			)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}, nil
}

func (o *beatsOutput) Name() string {
	return o.name
}

// Write sends one event. The connection is opened lazily and dropped on
// failure; the next Write reconnects.
func (o *beatsOutput) Write(_ context.Context, ev *clef.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client == nil {
		c, err := o.dial()
		if err != nil {
			return fmt.Errorf("failed connection to beats server: %w", err)
		}
		o.client = c
	}

	if _, err := o.client.Send([]interface{}{ev.Map()}); err != nil {
		_ = o.client.Close()
		o.client = nil
		return fmt.Errorf("beats send: %w", err)
	}
	return nil
}

func (o *beatsOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return nil
	}
	err := o.client.Close()
	o.client = nil
	return err
}
