// Package sink implements outputs for processed log events.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/sqelf/internal/config"
	"firestige.xyz/sqelf/internal/core"
	"firestige.xyz/sqelf/pkg/clef"
)

// Output writes events to one destination.
type Output interface {
	Name() string
	Write(ctx context.Context, ev *clef.Event) error
	Close() error
}

// Factory builds an Output from its name and raw options.
type Factory func(name string, options map[string]any) (Output, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an output type available to New. Output packages call it
// from init.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = f
}

// Types lists registered output types.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds one output.
func New(cfg config.OutputConfig) (Output, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", core.ErrOutputNotFound, cfg.Type, Types())
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	out, err := f(name, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", name, err)
	}
	return out, nil
}

// Build creates every configured output. On error, outputs created so far
// are closed.
func Build(cfgs []config.OutputConfig) ([]Output, error) {
	outputs := make([]Output, 0, len(cfgs))
	for _, c := range cfgs {
		out, err := New(c)
		if err != nil {
			_ = CloseAll(outputs)
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// CloseAll closes every output and joins their errors.
func CloseAll(outputs []Output) error {
	var errs []error
	for _, o := range outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// decodeOptions fills cfg from raw options. Durations may be written as
// strings ("3s"); unknown keys are rejected.
func decodeOptions(options map[string]any, cfg any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// defaultDuration returns d, or def when d is not positive.
func defaultDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
