// Package message defines the wire envelope exchanged between client and
// server. It gets serialized by the codec layer and wrapped in a protocol
// frame for transmission over TCP.
package message

// Envelope carries the data for a single call, cast, or reply.
//
//   - On request/cast: Target identifies the routed service type, Payload
//     contains the serialized args, Error is empty.
//   - On reply: Payload contains the serialized reply, Error is non-empty
//     if the handler returned an error.
type Envelope struct {
	Target  string // caller-supplied label (service type) for routing, logs, and middleware
	Error   string // non-empty if the handler returned an error
	Payload []byte // serialized args (request) or reply (response)
}
