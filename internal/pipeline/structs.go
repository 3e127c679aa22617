package pipeline

import (
	"context"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tributary/source/nakadi"
)

// structListener feeds events decoded with nakadi.StructCodec to the runner.
// Sinks then see canonical JSON, and events that are not JSON objects have
// already been skipped through the decode-error hook.
type structListener struct {
	r *Runner
}

func (l structListener) Accept(ctx context.Context, events []*structpb.Struct) error {
	raw := make([]nakadi.RawEvent, len(events))
	for i, ev := range events {
		b, err := protojson.Marshal(ev)
		if err != nil {
			return &nakadi.Error{Kind: nakadi.KindListener, Op: "encode event", Err: err}
		}
		raw[i] = b
	}
	return l.r.Accept(ctx, raw)
}

func (l structListener) OnDecodeError(err error) { l.r.OnDecodeError(err) }
