package nakadi

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

const (
	DefaultInitialDelay  = 500 * time.Millisecond
	DefaultBackoffFactor = 1.5
	DefaultMaxDelay      = 10 * time.Minute
	// UnlimitedRetries disables the retry ceiling.
	UnlimitedRetries = -1
)

// Backoff decides when and how often to call connect after a failure.
//
// attempt is the number of consecutive failures so far and lastErr the error
// that triggered the call (nil for the first connection). Implementations
// return a *Error of KindBackoffExhausted wrapping the last error once they
// give up, and ctx.Err() when cancelled while waiting.
type Backoff interface {
	Open(ctx context.Context, attempt int, lastErr error, connect func(context.Context) error) error
}

// ExponentialBackoff sleeps min(InitialDelay * Factor^attempt, MaxDelay)
// between attempts.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxRetries   int

	Logger *slog.Logger
}

// NewExponentialBackoff returns the default policy: 500ms, factor 1.5,
// capped at 10 minutes, no retry ceiling.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: DefaultInitialDelay,
		Factor:       DefaultBackoffFactor,
		MaxDelay:     DefaultMaxDelay,
		MaxRetries:   UnlimitedRetries,
	}
}

func (b *ExponentialBackoff) validate() error {
	if b.InitialDelay <= 0 {
		return errors.New("backoff: initial delay must be bigger than 0")
	}
	if b.Factor < 1 {
		return errors.New("backoff: factor must be at least 1")
	}
	if b.MaxDelay < b.InitialDelay {
		return errors.New("backoff: max delay is lower than initial delay")
	}
	return nil
}

// Delay is the sleep before the given attempt.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	d := float64(b.InitialDelay) * math.Pow(b.Factor, float64(attempt))
	if d >= float64(b.MaxDelay) || math.IsInf(d, 0) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

func (b *ExponentialBackoff) Open(ctx context.Context, attempt int, lastErr error, connect func(context.Context) error) error {
	if err := b.checkMaxRetries(lastErr, attempt); err != nil {
		return err
	}
	count := attempt
	if count > 0 {
		if err := b.sleep(ctx, count); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if isCancelled(ctx) {
			return ctx.Err()
		}
		if KindOf(err) == KindUnknown && isContextError(err) {
			// the attempt hit its own deadline, e.g. an HTTP client timeout
			err = TransportError("connect", err)
		}
		if !IsRetryable(err) {
			return err
		}
		b.logger().Warn("connect failed", "attempt", count, "error", err)
		count++
		if err := b.checkMaxRetries(err, count); err != nil {
			return err
		}
		if err := b.sleep(ctx, count); err != nil {
			return err
		}
	}
}

func (b *ExponentialBackoff) checkMaxRetries(err error, count int) error {
	if b.MaxRetries >= 0 && count > b.MaxRetries {
		b.logger().Info("maximum number of retries exceeded", "max_retries", b.MaxRetries)
		return &Error{Kind: KindBackoffExhausted, Op: "reconnect", Err: err}
	}
	return nil
}

func (b *ExponentialBackoff) sleep(ctx context.Context, count int) error {
	delay := b.Delay(count)
	b.logger().Info("sleeping before retry", "attempt", count, "delay", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *ExponentialBackoff) logger() *slog.Logger {
	if b.Logger == nil {
		return discardLogger
	}
	return b.Logger
}

var discardLogger = slog.New(slog.DiscardHandler)
