package nakadi

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec turns the raw JSON of one event into an application value.
//
// A returned error is reported through the decode-error hook and the event is
// skipped. Returning a KindTransport *Error aborts the whole connection.
type Codec[T any] interface {
	Decode(raw []byte) (T, error)
}

// CodecFunc adapts a function to Codec.
type CodecFunc[T any] func(raw []byte) (T, error)

func (f CodecFunc[T]) Decode(raw []byte) (T, error) { return f(raw) }

// JSONCodec unmarshals events into T.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Decode(raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// RawEvent is the undecoded JSON of one event.
type RawEvent []byte

// RawCodec passes events through untouched.
type RawCodec struct{}

func (RawCodec) Decode(raw []byte) (RawEvent, error) {
	raw = bytes.TrimSpace(raw)
	out := make(RawEvent, len(raw))
	copy(out, raw)
	return out, nil
}

// StructCodec decodes events into dynamic protobuf structs. Events that are
// not JSON objects fail to decode.
type StructCodec struct{}

func (StructCodec) Decode(raw []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(bytes.TrimSpace(raw), s); err != nil {
		return nil, err
	}
	return s, nil
}
