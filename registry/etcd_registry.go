// EtcdPeerDirectory implements PeerDirectory using etcd v3.
//
// etcd is a distributed key-value store that provides strong consistency
// (Raft protocol). Dispatch's own presence view is deliberately NOT built
// on top of it — §1's non-goals rule out strong consistency for
// membership — but etcd is a good fit for the one piece of state that
// genuinely needs it: the bootstrap question of "who else is in this
// cluster, and at what address", which every node needs an answer to
// before gossip can even start.
//
//	Key:   /dispatch/peers/{node_id}
//	Value: transport address (string)
//
// Registration uses TTL-based leases: if a node crashes, its lease expires
// and its peer entry disappears automatically — no ghost peers for other
// nodes' gossip loops to keep dialing.
package registry

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdPeerDirectory implements PeerDirectory using etcd v3.
type EtcdPeerDirectory struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	ttl    int64
}

const peerKeyPrefix = "/dispatch/peers/"

// NewEtcdPeerDirectory creates a peer directory connected to the given
// etcd endpoints. ttlSeconds controls how long a peer's advertisement
// survives without a KeepAlive before etcd reclaims it.
func NewEtcdPeerDirectory(endpoints []string, ttlSeconds int64) (*EtcdPeerDirectory, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdPeerDirectory{client: c, ttl: ttlSeconds}, nil
}

// Register advertises nodeID's address in etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the configured TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
func (d *EtcdPeerDirectory) Register(nodeID, addr string) error {
	ctx := context.TODO()

	// Create a TTL-based lease — if KeepAlive stops, the entry auto-expires
	lease, err := d.client.Grant(ctx, d.ttl)
	if err != nil {
		return err
	}

	// Store in etcd: key = /dispatch/peers/{node_id}, value = addr
	_, err = d.client.Put(ctx, peerKeyPrefix+nodeID, addr, clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes nodeID's advertisement.
// Called during graceful shutdown before the transport stops accepting connections.
func (d *EtcdPeerDirectory) Deregister(nodeID string) error {
	ctx := context.TODO()
	_, err := d.client.Delete(ctx, peerKeyPrefix+nodeID)
	return err
}

// Peers returns every currently advertised peer.
// Queries etcd with a key prefix to find all peers under /dispatch/peers/.
func (d *EtcdPeerDirectory) Peers() ([]Peer, error) {
	ctx := context.TODO()

	resp, err := d.client.Get(ctx, peerKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	peers := make([]Peer, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodeID := string(kv.Key)[len(peerKeyPrefix):]
		peers = append(peers, Peer{NodeID: nodeID, Addr: string(kv.Value)})
	}
	return peers, nil
}

// Watch monitors the peer prefix in etcd and emits the updated peer set
// whenever a node joins, leaves, or its lease expires.
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (d *EtcdPeerDirectory) Watch() <-chan []Peer {
	ctx := context.TODO()
	out := make(chan []Peer, 1)

	go func() {
		// Watch all keys under the peer prefix
		watchChan := d.client.Watch(ctx, peerKeyPrefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full peer set
			// (simpler than parsing individual watch events)
			peers, err := d.Peers()
			if err != nil {
				continue
			}
			out <- peers
		}
	}()

	return out
}
