// Package tracker maintains an eventually-consistent view of cluster
// presence (§4.1): local entries owned by this node, remote entries
// converged from gossip, and the heartbeat/expiry loop that keeps them
// fresh. It is the single writer behind the ring manager's membership.
package tracker

import (
	"time"

	"github.com/dispatch-cluster/dispatch/presence"
)

// PresenceTopic is the well-known topic heartbeats are broadcast on.
const PresenceTopic = "dispatch:presence"

// entryKey identifies a presence entry's (type, endpoint) coordinate —
// Endpoint itself isn't comparable (it embeds a []byte), so maps use this
// string-keyed form instead.
type entryKey struct {
	typ presence.ServiceType
	ep  string
}

func keyOf(typ presence.ServiceType, ep presence.Endpoint) entryKey {
	return entryKey{typ: typ, ep: ep.Key()}
}

// record pairs a presence entry's full endpoint with its current meta —
// entryKey alone (a serialized-endpoint string) isn't enough to reconstruct
// the endpoint's original LocalHandle bytes, so the map values carry it.
type record struct {
	endpoint presence.Endpoint
	meta     presence.Meta
}

// RingApplier is the subset of ring.Manager the tracker depends on —
// accepting an interface here keeps tracker decoupled from ring's
// snapshot/lookup machinery, which it never needs.
type RingApplier interface {
	ApplyDiff(typ presence.ServiceType, joins, leaves []presence.Entry)
}

// Config bundles the tracker's timing knobs (§6 configuration table).
type Config struct {
	// BroadcastPeriod is the heartbeat tick interval.
	BroadcastPeriod time.Duration
	// MaxSilentPeriods is the peer-expiry horizon, expressed in ticks.
	MaxSilentPeriods int
}

// DefaultConfig returns the configuration defaults from §6.
func DefaultConfig() Config {
	return Config{
		BroadcastPeriod:  1500 * time.Millisecond,
		MaxSilentPeriods: 20,
	}
}

// heartbeatPayload is the wire shape broadcast on PresenceTopic: a full
// enumeration of the sender's local entries, idempotent and self-carrying
// the sender's node_id.
type heartbeatPayload struct {
	NodeID  string      `json:"node_id"`
	Entries []wireEntry `json:"entries"`
}

type wireEntry struct {
	Type     presence.ServiceType `json:"type"`
	Endpoint presence.Endpoint    `json:"endpoint"`
	Meta     presence.Meta        `json:"meta"`
}
