package castlink

import "testing"

func TestEnvelopeMarshalParseRoundTrip(t *testing.T) {
	env := NewEnvelope()
	env.SourceID = "source-0"
	env.DestinationID = "receiver-0"
	env.Namespace = ReceiverNS
	env.WithJSON(`{"type":"GET_STATUS","requestId":42}`)

	frame := env.Marshal()
	frames, consumed, err := SplitFrames(frame)
	if err != nil {
		t.Fatalf("SplitFrames: %v", err)
	}
	if consumed != len(frame) {
		t.Fatalf("expected to consume %d bytes, got %d", len(frame), consumed)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	got, err := ParseEnvelope(frames[0])
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got.SourceID != env.SourceID || got.DestinationID != env.DestinationID || got.Namespace != env.Namespace {
		t.Fatalf("got %+v", got)
	}
	if string(got.Data) != string(env.Data) {
		t.Fatalf("got data %q want %q", got.Data, env.Data)
	}
}

func TestSplitFramesHandlesPartialFrame(t *testing.T) {
	env := NewEnvelope().WithJSON(`{"type":"PING"}`)
	full := env.Marshal()

	frames, consumed, err := SplitFrames(full[:len(full)-2])
	if err != nil {
		t.Fatalf("SplitFrames: %v", err)
	}
	if len(frames) != 0 || consumed != 0 {
		t.Fatalf("expected no complete frames from a truncated buffer, got %d frames, consumed=%d", len(frames), consumed)
	}
}

func TestSplitFramesHandlesMultipleFrames(t *testing.T) {
	a := NewEnvelope().WithJSON(`{"type":"PING"}`).Marshal()
	b := NewEnvelope().WithJSON(`{"type":"PONG"}`).Marshal()

	buf := append(append([]byte{}, a...), b...)
	frames, consumed, err := SplitFrames(buf)
	if err != nil {
		t.Fatalf("SplitFrames: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("expected full consumption, got %d of %d", consumed, len(buf))
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
}

func TestParseEnvelopeRejectsTruncatedString(t *testing.T) {
	frame := []byte{packType(fieldSourceID, wireString), 10, 'a', 'b'}
	if _, err := ParseEnvelope(frame); err == nil {
		t.Fatal("expected an error for a truncated string field")
	}
}

func TestParseEnvelopeRejectsInvalidUTF8(t *testing.T) {
	frame := []byte{packType(fieldNamespace, wireString), 2, 0xff, 0xfe}
	if _, err := ParseEnvelope(frame); err == nil {
		t.Fatal("expected an error for a non-UTF-8 namespace field")
	}
}

func TestVarintRoundTripAboveOneByte(t *testing.T) {
	encoded := varint(300)
	value, consumed, err := unpackVarint(encoded)
	if err != nil {
		t.Fatalf("unpackVarint: %v", err)
	}
	if value != 300 {
		t.Fatalf("got %d", value)
	}
	if consumed != len(encoded) {
		t.Fatalf("got consumed=%d want %d", consumed, len(encoded))
	}
}

func TestParseEnvelopeUnknownFieldStopsGracefullyByDefault(t *testing.T) {
	frame := []byte{packType(9, wireEnum), 1}
	env, err := ParseEnvelope(frame)
	if err != nil {
		t.Fatalf("expected no error in non-strict mode, got %v", err)
	}
	if env == nil {
		t.Fatal("expected a partially-populated envelope, got nil")
	}
}

func TestParseEnvelopeUnknownFieldErrorsInStrictMode(t *testing.T) {
	ParseStrict = true
	defer func() { ParseStrict = false }()

	frame := []byte{packType(9, wireEnum), 1}
	if _, err := ParseEnvelope(frame); err == nil {
		t.Fatal("expected an error for an unknown field in strict mode")
	}
}

func TestMarshalUsesBinaryFieldForBinaryPayload(t *testing.T) {
	env := NewEnvelope()
	env.PayloadType = TypeBinary
	env.Data = []byte{0x01, 0x02, 0x03}

	frame := env.Marshal()
	frames, _, err := SplitFrames(frame)
	if err != nil || len(frames) != 1 {
		t.Fatalf("SplitFrames: %v / %d frames", err, len(frames))
	}
	got, err := ParseEnvelope(frames[0])
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got.PayloadType != TypeBinary {
		t.Fatalf("got payload type %d", got.PayloadType)
	}
	if string(got.Data) != string(env.Data) {
		t.Fatalf("got %v want %v", got.Data, env.Data)
	}
}
