package nakadi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies failures seen by the reader.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is an I/O failure on the connection. Retryable.
	KindTransport
	// KindStructure is malformed batch framing. Retryable, as it almost
	// always means a truncated connection.
	KindStructure
	// KindEventDecode is a single event that could not be decoded.
	KindEventDecode
	// KindListener is a processing failure reported by application code.
	KindListener
	// KindBackoffExhausted means the retry ceiling was reached.
	KindBackoffExhausted
	// KindStaleStreamIdentity means a commit used a stream id the server
	// no longer knows.
	KindStaleStreamIdentity
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStructure:
		return "structure"
	case KindEventDecode:
		return "event-decode"
	case KindListener:
		return "listener"
	case KindBackoffExhausted:
		return "backoff-exhausted"
	case KindStaleStreamIdentity:
		return "stale-stream-identity"
	default:
		return "unknown"
	}
}

// ErrAlreadyProcessed is returned (possibly wrapped) by a listener to signal
// that a batch was handled before. The cursor is not committed again and the
// reader keeps going.
var ErrAlreadyProcessed = errors.New("nakadi: events already processed")

// Error is the tagged error type produced by this package.
type Error struct {
	Kind      Kind
	Op        string
	Partition string
	Err       error

	// Suppressed holds secondary failures, such as closing the connection
	// after Err happened.
	Suppressed []error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("nakadi: ")
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Partition != "" {
		fmt.Fprintf(&sb, " (partition %s)", e.Partition)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if n := len(e.Suppressed); n > 0 {
		fmt.Fprintf(&sb, " [%d suppressed]", n)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError marks err as a retryable I/O failure. Errors that are
// already classified are returned unchanged.
func TransportError(op string, err error) error {
	var ne *Error
	if errors.As(err, &ne) {
		return err
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func structureError(partition, format string, args ...any) error {
	return &Error{Kind: KindStructure, Op: "decode batch", Partition: partition, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err should be recovered by reconnecting.
// Unclassified context errors are not retryable: a deadline that expired
// inside application code is an application failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransport, KindStructure, KindStaleStreamIdentity:
		return true
	case KindUnknown:
		if isContextError(err) {
			return false
		}
		var netErr net.Error
		return errors.As(err, &netErr)
	default:
		return false
	}
}

// isCancelled reports whether the run itself was stopped. Errors that only
// wrap context.Canceled or context.DeadlineExceeded, such as an HTTP client
// timeout, do not count.
func isCancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// suppress records a secondary failure on the primary error when possible.
func suppress(primary, secondary error) {
	if secondary == nil {
		return
	}
	var ne *Error
	if errors.As(primary, &ne) {
		ne.Suppressed = append(ne.Suppressed, secondary)
	}
}
