package nakadi

import "context"

// Listener receives the events of every non keep-alive batch, in stream
// order. Returning nil commits the batch cursor. Returning
// ErrAlreadyProcessed skips the commit and keeps streaming; retryable errors
// (see IsRetryable) reconnect; anything else stops the reader.
type Listener[T any] interface {
	Accept(ctx context.Context, events []T) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc[T any] func(ctx context.Context, events []T) error

func (f ListenerFunc[T]) Accept(ctx context.Context, events []T) error { return f(ctx, events) }

// DecodeErrorHandler is optional; listeners implementing it are told about
// events that failed to decode and were skipped.
type DecodeErrorHandler interface {
	OnDecodeError(err error)
}

// Source is anything that streams until ctx is cancelled or it fails.
type Source interface {
	Run(ctx context.Context) error
}
