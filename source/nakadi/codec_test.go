package nakadi

import (
	"testing"
)

func TestRawCodec_CopiesAndTrims(t *testing.T) {
	in := []byte("  {\"id\":1}\n")
	out, err := RawCodec{}.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	in[3] = 'X'
	if string(out) != `{"id":1}` {
		t.Fatalf("got %q", out)
	}
}

func TestStructCodec(t *testing.T) {
	s, err := StructCodec{}.Decode([]byte(`{"metadata":{"eid":"e-1"},"amount":12.5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := s.GetFields()["metadata"].GetStructValue().GetFields()["eid"].GetStringValue(); got != "e-1" {
		t.Fatalf("eid = %q", got)
	}
	if got := s.GetFields()["amount"].GetNumberValue(); got != 12.5 {
		t.Fatalf("amount = %v", got)
	}
	if _, err := (StructCodec{}).Decode([]byte(`[1,2]`)); err == nil {
		t.Fatal("array accepted as struct")
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsRetryable(TransportError("read", ErrStreamClosed)) {
		t.Fatal("transport errors are retryable")
	}
	if IsRetryable(&Error{Kind: KindListener}) || IsRetryable(ErrAlreadyProcessed) || IsRetryable(nil) {
		t.Fatal("listener errors are not retryable")
	}
	wrapped := TransportError("again", structureError("1", "bad"))
	if KindOf(wrapped) != KindStructure {
		t.Fatalf("classified errors must keep their kind, got %v", KindOf(wrapped))
	}
	primary := TransportError("read", ErrStreamClosed)
	suppress(primary, ErrStreamClosed)
	if ne := primary.(*Error); len(ne.Suppressed) != 1 {
		t.Fatal("close failure not recorded")
	}
}
