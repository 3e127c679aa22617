package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"tributary/sink"
	"tributary/source/nakadi"
)

type namedSink struct {
	name string
	sink.Adapter
}

// Runner is the reader's listener: every event goes to each sink in order.
type Runner struct {
	eventType string
	sinks     []namedSink
	source    nakadi.Source
	closers   []io.Closer
	log       *slog.Logger

	paused       atomic.Bool
	state        atomic.Int32
	delivered    atomic.Uint64
	decodeErrors atomic.Uint64
}

func NewRunner(eventType string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{eventType: eventType, log: log}
}

func (r *Runner) AddSink(name string, s sink.Adapter) {
	r.sinks = append(r.sinks, namedSink{name, s})
}

func (r *Runner) SetSource(s nakadi.Source) { r.source = s }

// Accept implements nakadi.Listener. A sink failure stops the reader without
// committing the batch.
func (r *Runner) Accept(ctx context.Context, events []nakadi.RawEvent) error {
	for _, ev := range events {
		rec := &sink.Record{EventType: r.eventType, Value: ev}
		for _, s := range r.sinks {
			if err := s.Push(ctx, rec); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &nakadi.Error{Kind: nakadi.KindListener, Op: "push to " + s.name, Err: err}
			}
		}
		r.delivered.Add(1)
	}
	return nil
}

func (r *Runner) OnDecodeError(err error) {
	r.decodeErrors.Add(1)
}

// Delivered counts events pushed to every sink.
func (r *Runner) Delivered() uint64 { return r.delivered.Load() }

// DecodeErrors counts events the reader skipped.
func (r *Runner) DecodeErrors() uint64 { return r.decodeErrors.Load() }

// SetPaused asks the reader to drop its connection until resumed.
func (r *Runner) SetPaused(p bool) {
	if r.paused.Swap(p) != p {
		r.log.Info("pipeline pause changed", "paused", p)
	}
}

func (r *Runner) Paused() bool { return r.paused.Load() }

// ObserveState records the reader state; the compiler wires it to
// ReaderParams.OnStateChange.
func (r *Runner) ObserveState(s nakadi.State) { r.state.Store(int32(s)) }

func (r *Runner) State() nakadi.State { return nakadi.State(r.state.Load()) }

// EventType is the event type the pipeline consumes.
func (r *Runner) EventType() string { return r.eventType }

// Run streams until ctx is cancelled or the source fails, then closes the
// sinks.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	err := r.source.Run(ctx)
	if cerr := r.Close(); cerr != nil {
		r.log.Warn("closing pipeline", "error", cerr)
	}
	return err
}

func (r *Runner) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.name, err))
		}
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
