// Package presence defines the data model shared by the tracker, ring, and
// registry packages: endpoints, service types, and presence metadata.
package presence

import (
	"encoding/binary"
)

// Endpoint identifies an addressable worker in the cluster. NodeID is a
// cluster-unique node name; LocalHandle is a node-local opaque identifier
// the transport uses to deliver a message to it. Endpoints are not owned by
// the registry — their lifecycle is external.
type Endpoint struct {
	NodeID      string
	LocalHandle []byte
}

// Serialize produces the canonical byte encoding of the endpoint, used both
// as the ring key input and as the equality key for presence entries.
// Format is length-prefixed fields concatenated: len(NodeID) | NodeID |
// len(LocalHandle) | LocalHandle.
func (e Endpoint) Serialize() []byte {
	buf := make([]byte, 4+len(e.NodeID)+4+len(e.LocalHandle))
	offset := 0

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(e.NodeID)))
	offset += 4
	copy(buf[offset:offset+len(e.NodeID)], e.NodeID)
	offset += len(e.NodeID)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(e.LocalHandle)))
	offset += 4
	copy(buf[offset:offset+len(e.LocalHandle)], e.LocalHandle)

	return buf
}

// Key is the in-process map key for an endpoint — Go structs with a []byte
// field aren't comparable, so maps keyed by endpoint use this string form.
func (e Endpoint) Key() string {
	return string(e.Serialize())
}

func (e Endpoint) String() string {
	return e.NodeID + "/" + string(e.LocalHandle)
}
