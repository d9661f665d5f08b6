package message

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Target:  "ArithService",
		Error:   "",
		Payload: []byte(`{"a":1,"b":2}`),
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}

	if decoded.Target != env.Target {
		t.Errorf("Target mismatch: got %s, want %s", decoded.Target, env.Target)
	}
	if string(decoded.Payload) != string(env.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, env.Payload)
	}
}
