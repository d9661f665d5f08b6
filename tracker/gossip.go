package tracker

import (
	"encoding/json"
	"time"

	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/transport"
	"go.uber.org/zap"
)

// handleHeartbeat processes one heartbeat received on PresenceTopic (§4.1
// gossip protocol). A malformed payload is dropped and logged; the
// sender's last_heard is left untouched so expiry can still reclaim it.
func (t *Tracker) handleHeartbeat(msg transport.Message) {
	if msg.SourceNode == t.nodeID {
		return
	}

	var hb heartbeatPayload
	if err := json.Unmarshal(msg.Payload, &hb); err != nil {
		t.log.Warn("dropping malformed heartbeat", zap.String("source", msg.SourceNode), zap.Error(err))
		return
	}

	nodeID := hb.NodeID
	t.lastHeard[nodeID] = t.clk.Now()

	received := make(map[entryKey]record, len(hb.Entries))
	for _, e := range hb.Entries {
		received[entryKey{typ: e.Type, ep: e.Endpoint.Key()}] = record{endpoint: e.Endpoint, meta: e.Meta}
	}
	prior := t.remote[nodeID]

	joins := make(map[presence.ServiceType][]presence.Entry)
	leaves := make(map[presence.ServiceType][]presence.Entry)

	for key, rec := range received {
		if old, ok := prior[key]; !ok || !old.meta.Ref.Equal(rec.meta.Ref) {
			joins[key.typ] = append(joins[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
		}
	}
	for key, rec := range prior {
		if cur, ok := received[key]; !ok || !cur.meta.Ref.Equal(rec.meta.Ref) {
			leaves[key.typ] = append(leaves[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
		}
	}

	t.remote[nodeID] = received

	t.applyGroupedDiff(joins, leaves)
	t.publishSnapshot()
	t.mx.IncrCounter("heartbeat_received", 1)
}

// expirePeers scans last_heard for nodes silent longer than
// max_silent_periods * broadcast_period, synthesizes leaves for everything
// they owned, and forgets them (§4.1).
func (t *Tracker) expirePeers() {
	horizon := t.cfg.BroadcastPeriod * time.Duration(t.cfg.MaxSilentPeriods)
	now := t.clk.Now()

	var expired []string
	for nodeID, last := range t.lastHeard {
		if now.Sub(last) > horizon {
			expired = append(expired, nodeID)
		}
	}
	if len(expired) == 0 {
		return
	}

	leaves := make(map[presence.ServiceType][]presence.Entry)
	for _, nodeID := range expired {
		for key, rec := range t.remote[nodeID] {
			leaves[key.typ] = append(leaves[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
		}
		delete(t.remote, nodeID)
		delete(t.lastHeard, nodeID)
		t.log.Info("peer expired", zap.String("node_id", nodeID))
		t.mx.IncrCounter("peer_expired", 1)
	}

	t.applyGroupedDiff(nil, leaves)
	t.publishSnapshot()
}

func (t *Tracker) applyGroupedDiff(joins, leaves map[presence.ServiceType][]presence.Entry) {
	types := make(map[presence.ServiceType]struct{})
	for typ := range joins {
		types[typ] = struct{}{}
	}
	for typ := range leaves {
		types[typ] = struct{}{}
	}
	for typ := range types {
		t.ring.ApplyDiff(typ, joins[typ], leaves[typ])
	}
}
