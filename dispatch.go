// Package dispatch is the top-level Supervisor/Node façade: it wires the
// transport, tracker, ring manager, registry facade, and invoke server/
// invoker into one process lifecycle, the way the teacher's
// server.NewServer centralizes construction of a runnable RPC endpoint
// (§2 Clock & Timer, Supervisor / Lifecycle).
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dispatch-cluster/dispatch/client"
	"github.com/dispatch-cluster/dispatch/clock"
	"github.com/dispatch-cluster/dispatch/codec"
	"github.com/dispatch-cluster/dispatch/invoke"
	"github.com/dispatch-cluster/dispatch/metrics"
	"github.com/dispatch-cluster/dispatch/registry"
	"github.com/dispatch-cluster/dispatch/ring"
	"github.com/dispatch-cluster/dispatch/tracker"
	"github.com/dispatch-cluster/dispatch/transport"
	"go.uber.org/zap"
)

// Config bundles every knob a Node needs at construction — generalizing
// the teacher's per-call NewServer/Serve(network, address, advertiseAddr,
// reg) parameter list into one struct with centralized defaults (§9).
type Config struct {
	// NodeID is this node's cluster-unique identity.
	NodeID string
	// BindAddr is the local address the invoke server listens on.
	BindAddr string
	// AdvertiseAddr is the address peers should dial to reach this node;
	// defaults to BindAddr when empty.
	AdvertiseAddr string

	// EtcdEndpoints, if non-empty, selects an etcd-backed PeerDirectory
	// for bootstrap discovery. Leave empty (and set Peers) for tests or
	// single-process deployments.
	EtcdEndpoints []string
	// PeerTTLSeconds controls the etcd lease TTL when EtcdEndpoints is set.
	PeerTTLSeconds int64
	// Peers overrides peer discovery entirely with a fixed set — mutually
	// exclusive with EtcdEndpoints in practice, but either may be set.
	Peers registry.PeerDirectory

	// PubSub overrides the gossip transport — tests inject transport.Local
	// (or a transport.NewLocalCluster member); production deployments
	// should supply a cross-process PubSub implementation.
	PubSub transport.PubSub

	VnodesPerEndpoint int
	Tracker           tracker.Config

	Codec        codec.CodecType
	ConnPoolSize int
	CallTimeout  time.Duration

	// Handler processes inbound Call/Cast frames addressed to this node.
	// A daemon with no application logic of its own may leave this nil,
	// in which case every inbound frame is rejected.
	Handler invoke.Handler

	Logger  *zap.Logger
	Metrics *metrics.Sink
}

// DefaultConfig returns the configuration defaults from §6, parameterized
// by the two fields every deployment must supply.
func DefaultConfig(nodeID, bindAddr string) Config {
	return Config{
		NodeID:            nodeID,
		BindAddr:          bindAddr,
		PeerTTLSeconds:    10,
		VnodesPerEndpoint: ring.DefaultVnodesPerEndpoint,
		Tracker:           tracker.DefaultConfig(),
		Codec:             codec.CodecTypeJSON,
		ConnPoolSize:      8,
		CallTimeout:       5 * time.Second,
	}
}

// Node is one running cluster member: the tracker actor, ring manager,
// registry facade, invoke server, and client sugar, all sharing one
// lifecycle.
type Node struct {
	cfg Config
	log *zap.Logger

	pubsub  transport.PubSub
	tr      *tracker.Tracker
	ringMgr *ring.Manager
	reg     *registry.Facade
	peers   registry.PeerDirectory
	server  *invoke.Server
	invoker *invoke.TCPInvoker
	sugar   *client.Sugar

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func rejectAllHandler(ctx context.Context, target string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("dispatch: node has no handler configured for target %q", target)
}

// New constructs a Node without starting it — Start begins serving and
// joining the gossip cluster.
func New(cfg Config) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("dispatch: Config.NodeID is required")
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = cfg.BindAddr
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mx := cfg.Metrics
	if mx == nil {
		mx = metrics.NewSink(nil)
	}

	pubsub := cfg.PubSub
	if pubsub == nil {
		pubsub = transport.NewLocal(cfg.NodeID)
	}

	peers := cfg.Peers
	if peers == nil {
		if len(cfg.EtcdEndpoints) > 0 {
			var err error
			peers, err = registry.NewEtcdPeerDirectory(cfg.EtcdEndpoints, cfg.PeerTTLSeconds)
			if err != nil {
				return nil, fmt.Errorf("dispatch: creating etcd peer directory: %w", err)
			}
		} else {
			peers = registry.NewStaticPeerDirectory()
		}
	}

	ringMgr := ring.NewManager(pubsub, cfg.VnodesPerEndpoint, log)
	tr := tracker.New(cfg.NodeID, cfg.Tracker, clock.Real{}, pubsub, ringMgr, log, mx)
	reg := registry.New(cfg.NodeID, tr, ringMgr, log)

	handler := cfg.Handler
	if handler == nil {
		handler = rejectAllHandler
	}
	server := invoke.NewServer(handler, cfg.Codec, log)

	invoker := invoke.NewTCPInvoker(cfg.Codec, cfg.ConnPoolSize)
	sugar := client.New(reg, invoker, cfg.CallTimeout)

	return &Node{
		cfg:     cfg,
		log:     log,
		pubsub:  pubsub,
		tr:      tr,
		ringMgr: ringMgr,
		reg:     reg,
		peers:   peers,
		server:  server,
		invoker: invoker,
		sugar:   sugar,
	}, nil
}

// Start runs the tracker actor and begins accepting invoke connections,
// then advertises this node's address to the peer directory. Start
// returns once the invoke listener is up; the tracker and server continue
// running in background goroutines until Stop.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.tr.Run(runCtx)
	}()

	serveErr := make(chan error, 1)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		err := n.server.Serve("tcp", n.cfg.BindAddr)
		serveErr <- err
		if err != nil {
			n.log.Error("invoke server exited", zap.Error(err))
		}
	}()

	// Serve blocks for the lifetime of the listener, so a bind failure is
	// the only way it returns this quickly; anything still running after
	// this short window is accepting connections.
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("dispatch: starting invoke server: %w", err)
		}
	case <-time.After(50 * time.Millisecond):
	}

	if err := n.peers.Register(n.cfg.NodeID, n.cfg.AdvertiseAddr); err != nil {
		return fmt.Errorf("dispatch: registering with peer directory: %w", err)
	}

	n.log.Info("node started",
		zap.String("node_id", n.cfg.NodeID),
		zap.String("bind_addr", n.cfg.BindAddr))
	return nil
}

// Stop performs the graceful shutdown sequence from §5: deregister from
// the peer directory, stop accepting new invoke connections and drain
// in-flight ones, then cancel the tracker so it emits farewell leaves and
// one final heartbeat before its actor loop exits.
func (n *Node) Stop(timeout time.Duration) error {
	if err := n.peers.Deregister(n.cfg.NodeID); err != nil {
		n.log.Warn("failed to deregister from peer directory", zap.Error(err))
	}

	if err := n.server.Shutdown(timeout); err != nil {
		n.log.Warn("invoke server shutdown did not complete cleanly", zap.Error(err))
	}

	if n.cancel != nil {
		n.cancel()
	}
	n.invoker.Close()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		n.log.Warn("tracker did not shut down within timeout")
	}

	n.log.Info("node stopped", zap.String("node_id", n.cfg.NodeID))
	return nil
}

// Registry returns this node's Registry Facade for registering and
// querying local and cluster presence.
func (n *Node) Registry() *registry.Facade { return n.reg }

// Client returns this node's Client Sugar for calling services resolved
// through the ring.
func (n *Node) Client() *client.Sugar { return n.sugar }
