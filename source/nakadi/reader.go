package nakadi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// DefaultPauseInterval is how long a paused reader idles between checks.
const DefaultPauseInterval = time.Second

var errNoSession = errors.New("nakadi: backoff returned without opening a stream")

// State of a Reader's run loop.
type State int32

const (
	StateInit State = iota
	StateStreaming
	StateReconnecting
	StatePaused
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	case StatePaused:
		return "PAUSED"
	case StateTerminated:
		return "TERMINATED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ReaderParams wires a Reader. Client, BaseURL, Policy, Cursors, Listener
// and Codec are required.
type ReaderParams[T any] struct {
	Client     StreamClient
	BaseURL    string
	Policy     ResumePolicy
	Parameters StreamParameters

	Cursors  CursorManager
	Listener Listener[T]
	Codec    Codec[T]

	// Backoff defaults to NewExponentialBackoff().
	Backoff Backoff
	Metrics MetricsCollector
	Logger  *slog.Logger

	// Pause, when it returns true, makes the reader drop its connection and
	// idle for PauseInterval until it returns false again.
	Pause         func() bool
	PauseInterval time.Duration

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(State)
}

// Reader consumes one event type or subscription: it keeps a single
// streaming connection open, hands batches to the listener in order, commits
// their cursors and reconnects on transport failures.
type Reader[T any] struct {
	client    StreamClient
	uri       string
	policy    ResumePolicy
	eventType string

	cursors  CursorManager
	tracker  *Tracker
	listener Listener[T]
	codec    Codec[T]
	backoff  Backoff
	metrics  MetricsCollector
	log      *slog.Logger

	pause         func() bool
	pauseInterval time.Duration
	onState       func(State)
	state         atomic.Int32
}

func NewReader[T any](p ReaderParams[T]) (*Reader[T], error) {
	switch {
	case p.Client == nil:
		return nil, errors.New("nakadi: reader needs a stream client")
	case p.Cursors == nil:
		return nil, errors.New("nakadi: reader needs a cursor manager")
	case p.Listener == nil:
		return nil, errors.New("nakadi: reader needs a listener")
	case p.Codec == nil:
		return nil, errors.New("nakadi: reader needs a codec")
	}
	if err := p.Policy.validate(); err != nil {
		return nil, fmt.Errorf("nakadi: %w", err)
	}
	if err := p.Parameters.Validate(); err != nil {
		return nil, fmt.Errorf("nakadi: %w", err)
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("nakadi: parse base url: %w", err)
	}
	if p.Backoff == nil {
		p.Backoff = NewExponentialBackoff()
	}
	if eb, ok := p.Backoff.(*ExponentialBackoff); ok {
		if err := eb.validate(); err != nil {
			return nil, fmt.Errorf("nakadi: %w", err)
		}
	}
	if p.Metrics == nil {
		p.Metrics = NoMetrics{}
	}
	if p.Logger == nil {
		p.Logger = discardLogger
	}
	if p.PauseInterval <= 0 {
		p.PauseInterval = DefaultPauseInterval
	}
	return &Reader[T]{
		client:        p.Client,
		uri:           p.Policy.streamURI(base, p.Parameters),
		policy:        p.Policy,
		eventType:     p.Policy.EventType,
		cursors:       p.Cursors,
		tracker:       NewTracker(p.Cursors),
		listener:      p.Listener,
		codec:         p.Codec,
		backoff:       p.Backoff,
		metrics:       p.Metrics,
		log:           p.Logger.With("event_type", p.Policy.EventType),
		pause:         p.Pause,
		pauseInterval: p.PauseInterval,
		onState:       p.OnStateChange,
	}, nil
}

// State reports the current state of Run.
func (r *Reader[T]) State() State { return State(r.state.Load()) }

// URI is the streaming endpoint the reader connects to.
func (r *Reader[T]) URI() string { return r.uri }

func (r *Reader[T]) setState(s State) {
	r.state.Store(int32(s))
	r.log.Debug("reader state", "state", s.String())
	if r.onState != nil {
		r.onState(s)
	}
}

// Run streams until ctx is cancelled, which returns nil, or until a fatal
// error. Listener failures are returned unchanged; when the retry ceiling is
// reached the last connection error is returned.
func (r *Reader[T]) Run(ctx context.Context) error {
	r.setState(StateInit)
	r.log.Info("starting to listen for events", "uri", r.uri)

	var sess *session[T]
	defer func() {
		if sess != nil {
			r.closeSession(sess, nil)
		}
	}()

	if err := r.open(ctx, 0, nil, &sess, false); err != nil {
		return r.giveUp(ctx, err)
	}
	r.setState(StateStreaming)

	errorCount := 0
	for {
		if ctx.Err() != nil {
			return r.terminate(&sess)
		}
		if r.pause != nil && r.pause() {
			if stopped, err := r.idle(ctx, &sess); stopped {
				return err
			}
			continue
		}

		err := r.readBatch(ctx, sess)
		if err == nil {
			errorCount = 0
			continue
		}
		if isCancelled(ctx) {
			return r.terminate(&sess)
		}
		if !IsRetryable(err) {
			return r.fail(&sess, err)
		}

		r.metrics.ErrorWhileConsuming()
		if errorCount > 0 {
			r.log.Warn("error while reading events", "retries", errorCount, "error", err)
		} else {
			r.log.Info("error while reading events", "error", err)
		}
		r.setState(StateReconnecting)
		r.closeSession(sess, err)
		sess = nil
		if ctx.Err() != nil {
			return r.terminate(&sess)
		}

		r.log.Debug("reconnecting", "attempt", errorCount)
		if err := r.open(ctx, errorCount, err, &sess, true); err != nil {
			return r.giveUp(ctx, err)
		}
		r.log.Info("reconnected", "attempt", errorCount)
		r.metrics.Reconnection()
		errorCount++
		r.setState(StateStreaming)
	}
}

// connect returns the callback handed to the backoff. On success *out holds
// the new session.
func (r *Reader[T]) connect(out **session[T], reconnect bool) func(context.Context) error {
	return func(ctx context.Context) error {
		cursors, err := ResumeCursors(ctx, r.cursors, r.policy, reconnect)
		if err != nil {
			return err
		}
		header := http.Header{}
		header.Set("Accept-Encoding", "gzip")
		if len(cursors) > 0 {
			value, err := cursorHeader(cursors)
			if err != nil {
				return err
			}
			header.Set(headerCursors, value)
		}
		s, err := openSession(ctx, r.client, r.uri, header, r.codec, r.onDecodeError, r.log)
		if err != nil {
			return err
		}
		if s.streamID != "" {
			r.log.Debug("stream opened", "stream_id", s.streamID)
			r.cursors.OnStreamOpened(r.eventType, s.streamID)
		}
		*out = s
		return nil
	}
}

func cursorHeader(cursors []Cursor) (string, error) {
	type wire struct {
		Partition string `json:"partition"`
		Offset    string `json:"offset"`
	}
	out := make([]wire, len(cursors))
	for i, c := range cursors {
		out[i] = wire{c.Partition, c.Offset}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

// readBatch decodes one batch and, unless it is a keep-alive, dispatches it.
func (r *Reader[T]) readBatch(ctx context.Context, sess *session[T]) error {
	r.log.Debug("waiting for next batch of events")
	batch, err := sess.next()
	if err != nil {
		return err
	}
	r.metrics.MessageReceived()
	c := batch.Cursor
	r.log.Debug("cursor", "partition", c.Partition, "offset", c.Offset)

	if batch.KeepAlive {
		r.metrics.EventsReceived(0, time.Time{}, time.Time{})
		return nil
	}
	r.metrics.EventsReceived(len(batch.Events), batch.Stats.Oldest, batch.Stats.Newest)
	if err := r.dispatch(ctx, batch); err != nil {
		return err
	}
	r.metrics.MessageProcessed()
	return nil
}

func (r *Reader[T]) dispatch(ctx context.Context, batch *Batch[T]) error {
	c := batch.Cursor
	commit := r.tracker.Track(r.eventType, c)

	err := r.listener.Accept(ctx, batch.Events)
	switch {
	case err == nil:
		err = commit(ctx)
	case errors.Is(err, ErrAlreadyProcessed):
		r.tracker.Discard(r.eventType, c.Partition)
		r.log.Info("events were already processed", "partition", c.Partition, "offset", c.Offset)
		return nil
	default:
		r.tracker.Discard(r.eventType, c.Partition)
	}
	if err != nil {
		r.cursors.OnError(r.eventType, c, err)
	}
	return err
}

func (r *Reader[T]) onDecodeError(err error) {
	r.log.Warn("skipping event that could not be decoded", "error", err)
	if h, ok := r.listener.(DecodeErrorHandler); ok {
		h.OnDecodeError(err)
	}
}

// idle closes the connection and waits for the pause signal to clear, then
// reconnects. When stopped is true the run is over and err is its result.
func (r *Reader[T]) idle(ctx context.Context, sess **session[T]) (stopped bool, err error) {
	r.log.Info("pausing consumption")
	r.closeSession(*sess, nil)
	*sess = nil
	r.setState(StatePaused)

	t := time.NewTicker(r.pauseInterval)
	defer t.Stop()
	for r.pause() {
		select {
		case <-ctx.Done():
			return true, r.terminate(sess)
		case <-t.C:
		}
	}
	r.log.Info("resuming consumption")
	if err := r.open(ctx, 0, nil, sess, true); err != nil {
		return true, r.giveUp(ctx, err)
	}
	r.setState(StateStreaming)
	return false, nil
}

// open runs the backoff until a session is established.
func (r *Reader[T]) open(ctx context.Context, attempt int, lastErr error, sess **session[T], reconnect bool) error {
	if err := r.backoff.Open(ctx, attempt, lastErr, r.connect(sess, reconnect)); err != nil {
		return err
	}
	if *sess == nil {
		if isCancelled(ctx) {
			return ctx.Err()
		}
		return errNoSession
	}
	return nil
}

func (r *Reader[T]) closeSession(sess *session[T], cause error) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		r.log.Warn("could not close stream", "error", err)
		suppress(cause, err)
	}
}

func (r *Reader[T]) terminate(sess **session[T]) error {
	r.closeSession(*sess, nil)
	*sess = nil
	r.setState(StateTerminated)
	r.log.Info("stopped listening for events")
	return nil
}

func (r *Reader[T]) fail(sess **session[T], err error) error {
	r.closeSession(*sess, err)
	*sess = nil
	r.setState(StateFailed)
	r.log.Error("stopped listening for events", "error", err)
	return err
}

// giveUp handles a failed backoff: cancellation terminates, exhaustion
// surfaces the error that triggered the last attempt.
func (r *Reader[T]) giveUp(ctx context.Context, err error) error {
	var none *session[T]
	if isCancelled(ctx) {
		return r.terminate(&none)
	}
	var be *Error
	if errors.As(err, &be) && be.Kind == KindBackoffExhausted && be.Err != nil {
		err = be.Err
	}
	return r.fail(&none, err)
}
