package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/sqelf/pkg/clef"
)

func init() {
	Register("stdout", newStdout)
	Register("file", newFile)
}

// lineOutput writes one JSON document per line.
type lineOutput struct {
	name   string
	pretty bool

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer // nil when the writer is not owned
}

// StdoutConfig configures the stdout output.
type StdoutConfig struct {
	Pretty bool `mapstructure:"pretty"`
}

// FileConfig configures the rotating file output.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

func newStdout(name string, options map[string]any) (Output, error) {
	var cfg StdoutConfig
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return NewWriterOutput(name, os.Stdout, cfg.Pretty), nil
}

func newFile(name string, options map[string]any) (Output, error) {
	cfg := FileConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &lineOutput{name: name, w: lj, closer: lj}, nil
}

// NewWriterOutput creates an output writing JSON lines to w. w is not closed.
func NewWriterOutput(name string, w io.Writer, pretty bool) Output {
	return &lineOutput{name: name, w: w, pretty: pretty}
}

func (o *lineOutput) Name() string {
	return o.name
}

func (o *lineOutput) Write(_ context.Context, ev *clef.Event) error {
	var (
		b   []byte
		err error
	)
	if o.pretty {
		b, err = json.MarshalIndent(ev, "", "  ")
	} else {
		b, err = json.Marshal(ev)
	}
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b = append(b, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	_, err = o.w.Write(b)
	return err
}

func (o *lineOutput) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}
