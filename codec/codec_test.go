package codec

import (
	"testing"

	"github.com/dispatch-cluster/dispatch/message"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := &message.Envelope{
		Target:  "ArithService",
		Payload: []byte(`{"a":1,"b":2}`),
		Error:   "",
	}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded message.Envelope
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if original.Target != decoded.Target {
		t.Errorf("Target mismatch: got %s, want %s", decoded.Target, original.Target)
	}
	if string(original.Payload) != string(decoded.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", string(decoded.Payload), string(original.Payload))
	}
	if original.Error != decoded.Error {
		t.Errorf("Error mismatch: got %s, want %s", decoded.Error, original.Error)
	}
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	original := &message.Envelope{
		Target:  "ArithService",
		Payload: []byte(`{"a":1,"b":2}`),
		Error:   "",
	}

	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decoded message.Envelope
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}

	if original.Target != decoded.Target {
		t.Errorf("Target mismatch: got %s, want %s", decoded.Target, original.Target)
	}
	if string(original.Payload) != string(decoded.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", string(decoded.Payload), string(original.Payload))
	}
	if original.Error != decoded.Error {
		t.Errorf("Error mismatch: got %s, want %s", decoded.Error, original.Error)
	}
}
