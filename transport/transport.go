// Package transport defines the pub/sub contract the tracker and ring
// manager are built on (§6): topic-addressed broadcast to local subscribers
// and to other cluster nodes. This is a collaborator, not the core of the
// library — applications may supply their own PubSub. This package ships
// only Local, which covers single-process use and tests; it has no
// cross-process implementation.
package transport

// Message is a single delivery on a topic.
type Message struct {
	Topic      string
	Payload    []byte
	SourceNode string
}

// PubSub is the transport contract consumed by the tracker and ring
// manager. Implementations must be safe for many concurrent publishers and
// subscribers.
type PubSub interface {
	// Subscribe begins delivering messages on topic to the returned
	// channel. The cancel function stops delivery and must be safe to call
	// more than once.
	Subscribe(topic string) (<-chan Message, func())

	// Broadcast delivers payload to every local subscriber on topic on
	// every cluster node.
	Broadcast(topic string, payload []byte) error

	// DirectBroadcast delivers payload to every local subscriber on topic
	// on exactly one node, identified by nodeID. Used for local-only
	// fan-out (e.g. a node's own ring manager) to avoid a needless cluster
	// hop.
	DirectBroadcast(nodeID, topic string, payload []byte) error

	// NodeID returns the identity this PubSub instance publishes as.
	NodeID() string
}
