package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/internal/sink"
	"firestige.xyz/sqelf/pkg/gelf"
)

// Emitter turns messages into events and writes each to every output.
// It is the server's downstream sink.
type Emitter struct {
	processor *Processor
	outputs   []sink.Output
	now       func() time.Time
}

// NewEmitter creates an Emitter over the given outputs.
func NewEmitter(p *Processor, outputs []sink.Output) *Emitter {
	return &Emitter{processor: p, outputs: outputs, now: time.Now}
}

// Emit writes msg to all outputs. An output failure does not stop the
// others; all failures are joined into the returned error.
func (e *Emitter) Emit(ctx context.Context, msg *gelf.Message) error {
	ev := e.processor.ToEvent(msg, e.now())

	var errs []error
	for _, o := range e.outputs {
		if err := o.Write(ctx, ev); err != nil {
			metrics.OutputEventsTotal.WithLabelValues(o.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("output %s: %w", o.Name(), err))
			continue
		}
		metrics.OutputEventsTotal.WithLabelValues(o.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every output.
func (e *Emitter) Close() error {
	return sink.CloseAll(e.outputs)
}
