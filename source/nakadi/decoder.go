package nakadi

import (
	"errors"
	"io"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const decodeBufferSize = 8 << 10

// ErrStreamClosed is the cause of the transport error raised when the server
// ends the response body.
var ErrStreamClosed = errors.New("stream was closed")

// readRecorder remembers the first error returned by the body so that read
// failures can be told apart from malformed JSON after the iterator has
// swallowed them.
type readRecorder struct {
	r   io.Reader
	err error
}

func (rr *readRecorder) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && rr.err == nil {
		rr.err = err
	}
	return n, err
}

// batchDecoder pulls one batch object at a time from a streaming body.
// Batches are concatenated JSON objects, optionally separated by whitespace.
type batchDecoder[T any] struct {
	iter          *jsoniter.Iterator
	body          *readRecorder
	codec         Codec[T]
	onDecodeError func(error)
	log           *slog.Logger
}

func newBatchDecoder[T any](body io.Reader, codec Codec[T], onDecodeError func(error), log *slog.Logger) *batchDecoder[T] {
	rec := &readRecorder{r: body}
	return &batchDecoder[T]{
		iter:          jsoniter.Parse(jsoniter.ConfigCompatibleWithStandardLibrary, rec, decodeBufferSize),
		body:          rec,
		codec:         codec,
		onDecodeError: onDecodeError,
		log:           log,
	}
}

// next blocks until the next batch is complete.
func (d *batchDecoder[T]) next() (*Batch[T], error) {
	if err := d.expect(jsoniter.ObjectValue, "", "batch"); err != nil {
		return nil, err
	}

	var (
		cursor  *Cursor
		events  []T
		present bool
		stats   EventStats
		fatal   error
	)
	d.iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case "cursor":
			c, err := d.readCursor()
			if err != nil {
				fatal = err
				return false
			}
			cursor = &c
		case "events":
			partition := ""
			if cursor != nil {
				partition = cursor.Partition
			}
			evs, err := d.readEvents(partition, &stats)
			if err != nil {
				fatal = err
				return false
			}
			events, present = evs, true
		case "info":
			d.log.Debug("skipping stream info in event batch")
			it.Skip()
		default:
			d.log.Warn("unexpected field in event batch", "field", field)
			it.Skip()
		}
		return it.Error == nil
	})
	if fatal != nil {
		return nil, fatal
	}
	if err := d.failure(""); err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, structureError("", "could not read cursor")
	}
	if present && events == nil {
		events = []T{}
	}
	return &Batch[T]{Cursor: *cursor, Events: events, KeepAlive: !present, Stats: stats}, nil
}

func (d *batchDecoder[T]) readCursor() (Cursor, error) {
	var c Cursor
	if err := d.expect(jsoniter.ObjectValue, "", "cursor"); err != nil {
		return c, err
	}
	var partition, offset *string
	d.iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case "partition":
			partition = d.readText()
		case "offset":
			offset = d.readText()
		case "event_type":
			if s := d.readText(); s != nil {
				c.EventType = *s
			}
		case "cursor_token":
			if s := d.readText(); s != nil {
				c.CursorToken = *s
			}
		default:
			d.log.Warn("unexpected field in cursor", "field", field)
			it.Skip()
		}
		return it.Error == nil
	})
	if err := d.failure(""); err != nil {
		return c, err
	}
	if partition == nil {
		return c, structureError("", "could not read partition from cursor")
	}
	if offset == nil {
		return c, structureError(*partition, "could not read offset from cursor for partition [%s]", *partition)
	}
	c.Partition, c.Offset = *partition, *offset
	return c, nil
}

// readText returns nil when the value is not a string.
func (d *batchDecoder[T]) readText() *string {
	if d.iter.WhatIsNext() != jsoniter.StringValue {
		d.iter.Skip()
		return nil
	}
	s := d.iter.ReadString()
	return &s
}

func (d *batchDecoder[T]) readEvents(partition string, stats *EventStats) ([]T, error) {
	if err := d.expect(jsoniter.ArrayValue, partition, "events"); err != nil {
		return nil, err
	}
	events := []T{}
	var fatal error
	d.iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		raw := it.SkipAndReturnBytes()
		if it.Error != nil {
			return false
		}
		ev, err := d.codec.Decode(raw)
		if err != nil {
			if KindOf(err) == KindTransport {
				fatal = err
				return false
			}
			d.onDecodeError(&Error{Kind: KindEventDecode, Op: "decode event", Partition: partition, Err: err})
			return true
		}
		if t, ok := occurredAt(raw); ok {
			stats.observe(t)
		}
		events = append(events, ev)
		return true
	})
	if fatal != nil {
		return nil, fatal
	}
	if err := d.failure(partition); err != nil {
		return nil, err
	}
	return events, nil
}

// expect peeks at the next value and fails unless it has the wanted type.
func (d *batchDecoder[T]) expect(want jsoniter.ValueType, partition, what string) error {
	got := d.iter.WhatIsNext()
	if err := d.failure(partition); err != nil {
		return err
	}
	if got != want {
		return structureError(partition, "expected %s for %s but got %s", valueTypeName(want), what, valueTypeName(got))
	}
	return nil
}

// failure translates the iterator state into a classified error. A body
// error only counts once the iterator actually ran out of input.
func (d *batchDecoder[T]) failure(partition string) error {
	err := d.iter.Error
	if err == nil {
		return nil
	}
	if rerr := d.body.err; rerr != nil {
		if errors.Is(rerr, io.EOF) {
			rerr = ErrStreamClosed
		}
		return &Error{Kind: KindTransport, Op: "read batch", Partition: partition, Err: rerr}
	}
	return &Error{Kind: KindStructure, Op: "decode batch", Partition: partition, Err: err}
}

func occurredAt(raw []byte) (time.Time, bool) {
	v := json.Get(raw, "metadata", "occurred_at")
	if v.ValueType() != jsoniter.StringValue {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.ToString())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func valueTypeName(t jsoniter.ValueType) string {
	switch t {
	case jsoniter.ObjectValue:
		return "object"
	case jsoniter.ArrayValue:
		return "array"
	case jsoniter.StringValue:
		return "string"
	case jsoniter.NumberValue:
		return "number"
	case jsoniter.BoolValue:
		return "boolean"
	case jsoniter.NilValue:
		return "null"
	default:
		return "end of stream"
	}
}
