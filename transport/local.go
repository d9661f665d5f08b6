package transport

import "sync"

// hub is the shared fan-out point for a simulated cluster of Local PubSub
// instances living in the same process — used by tests that exercise
// multi-node gossip convergence and peer expiry (§8 scenario 6) without a
// real socket.
type hub struct {
	mu    sync.Mutex
	nodes map[string]*Local
}

func newHub() *hub {
	return &hub{nodes: make(map[string]*Local)}
}

// NewLocalCluster builds a set of Local PubSub instances, one per nodeID,
// all wired to the same in-process hub: Broadcast from any one of them
// reaches every node's local subscribers, and DirectBroadcast reaches
// exactly the named node.
func NewLocalCluster(nodeIDs ...string) map[string]*Local {
	h := newHub()
	out := make(map[string]*Local, len(nodeIDs))
	for _, id := range nodeIDs {
		l := newLocalOnHub(id, h)
		h.nodes[id] = l
		out[id] = l
	}
	return out
}

// Local is an in-process PubSub implementation: subscribers and publishers
// must live in the same Go process. Suitable for single-node deployments,
// unit tests, and (via NewLocalCluster) simulated multi-node tests.
type Local struct {
	nodeID string
	hub    *hub

	mu   sync.Mutex
	subs map[string][]chan Message
}

// NewLocal creates a standalone single-node Local PubSub: Broadcast and
// DirectBroadcast both reach only this instance's own subscribers.
func NewLocal(nodeID string) *Local {
	h := newHub()
	l := newLocalOnHub(nodeID, h)
	h.nodes[nodeID] = l
	return l
}

func newLocalOnHub(nodeID string, h *hub) *Local {
	return &Local{nodeID: nodeID, hub: h, subs: make(map[string][]chan Message)}
}

// Sever detaches this node from its hub so it neither sends nor receives
// further broadcasts — used to simulate a severed transport link in peer
// expiry tests.
func (l *Local) Sever() {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	delete(l.hub.nodes, l.nodeID)
}

func (l *Local) NodeID() string { return l.nodeID }

func (l *Local) Subscribe(topic string) (<-chan Message, func()) {
	ch := make(chan Message, 64)
	l.mu.Lock()
	l.subs[topic] = append(l.subs[topic], ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		list := l.subs[topic]
		for i, c := range list {
			if c == ch {
				l.subs[topic] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (l *Local) Broadcast(topic string, payload []byte) error {
	l.hub.mu.Lock()
	if l.hub.nodes[l.nodeID] != l {
		// Severed: this node no longer sends.
		l.hub.mu.Unlock()
		return nil
	}
	targets := make([]*Local, 0, len(l.hub.nodes))
	for _, n := range l.hub.nodes {
		targets = append(targets, n)
	}
	l.hub.mu.Unlock()

	for _, n := range targets {
		n.deliverLocal(topic, Message{Topic: topic, Payload: payload, SourceNode: l.nodeID})
	}
	return nil
}

func (l *Local) DirectBroadcast(nodeID, topic string, payload []byte) error {
	l.hub.mu.Lock()
	target, ok := l.hub.nodes[nodeID]
	attached := l.hub.nodes[l.nodeID] == l
	l.hub.mu.Unlock()
	if !ok || !attached {
		return nil
	}
	target.deliverLocal(topic, Message{Topic: topic, Payload: payload, SourceNode: l.nodeID})
	return nil
}

func (l *Local) deliverLocal(topic string, msg Message) {
	l.mu.Lock()
	subs := append([]chan Message{}, l.subs[topic]...)
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block the broadcaster,
			// consistent with heartbeats being self-healing on the next
			// tick (§4.1 failure semantics).
		}
	}
}
