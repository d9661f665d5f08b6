package registry

// Peer is one cluster member's transport address, as needed to bootstrap
// gossip — spec.md's pub/sub transport (§6) is parameterized only by topic,
// so something has to tell a freshly-started node who else to dial or
// subscribe alongside. That's this interface's job.
type Peer struct {
	NodeID string
	Addr   string
}

// PeerDirectory discovers and tracks cluster peer addresses. It sits
// outside the tracker/ring/facade triad entirely — bootstrap, not presence
// — and is consumed once at Supervisor start.
type PeerDirectory interface {
	// Register advertises this node's own address under nodeID.
	Register(nodeID, addr string) error
	// Deregister removes this node's advertisement.
	Deregister(nodeID string) error
	// Peers returns the currently known peer set (including self, if
	// registered).
	Peers() ([]Peer, error)
	// Watch streams updated peer sets whenever membership changes.
	Watch() <-chan []Peer
}

// StaticPeerDirectory is a fixed, never-changing peer set — useful for
// tests and for deployments where the peer list is supplied out-of-band
// (e.g. a Kubernetes headless service already resolved to IPs).
type StaticPeerDirectory struct {
	peers []Peer
}

// NewStaticPeerDirectory returns a PeerDirectory over a fixed peer list.
func NewStaticPeerDirectory(peers ...Peer) *StaticPeerDirectory {
	return &StaticPeerDirectory{peers: peers}
}

func (s *StaticPeerDirectory) Register(string, string) error { return nil }
func (s *StaticPeerDirectory) Deregister(string) error        { return nil }

func (s *StaticPeerDirectory) Peers() ([]Peer, error) {
	out := make([]Peer, len(s.peers))
	copy(out, s.peers)
	return out, nil
}

func (s *StaticPeerDirectory) Watch() <-chan []Peer {
	return nil
}
