package tracker

import (
	"context"
	"encoding/json"
	"iter"
	"sync/atomic"
	"time"

	"github.com/dispatch-cluster/dispatch/clock"
	"github.com/dispatch-cluster/dispatch/dispatcherrors"
	"github.com/dispatch-cluster/dispatch/metrics"
	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// opKind distinguishes the three owner-only mutation requests the actor
// loop serializes.
type opKind int

const (
	opTrack opKind = iota
	opUpdate
	opUntrack
)

type opRequest struct {
	kind  opKind
	typ   presence.ServiceType
	ep    presence.Endpoint
	state presence.State
	reply chan opReply
}

type opReply struct {
	ref presence.Ref
	err error
}

// snapshot is the immutable, merged local+remote view published after
// every mutation so List (and anything else reading presence state) never
// blocks on the actor loop (§5: "read the current ... snapshot").
type snapshot struct {
	byType map[presence.ServiceType][]presence.Entry
}

// Tracker is the single-writer actor maintaining this node's view of
// cluster presence. Local/remote/last-heard state is owned exclusively by
// the actor goroutine; callers interact only through the channel-mediated
// operations below (§5: "owned exclusively by the Tracker actor; no
// external access").
type Tracker struct {
	nodeID string
	cfg    Config
	clk    clock.Clock
	pubsub transport.PubSub
	ring   RingApplier
	minter *presence.RefMinter
	log    *zap.Logger
	mx     *metrics.Sink
	limit  *rate.Limiter

	ops  chan opRequest
	done chan struct{}

	local     map[entryKey]record
	remote    map[string]map[entryKey]record
	lastHeard map[string]time.Time

	snap atomic.Pointer[snapshot]
}

// New constructs a Tracker for nodeID. Call Run in its own goroutine to
// start the actor loop.
func New(nodeID string, cfg Config, clk clock.Clock, pubsub transport.PubSub, ring RingApplier, log *zap.Logger, mx *metrics.Sink) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		nodeID:    nodeID,
		cfg:       cfg,
		clk:       clk,
		pubsub:    pubsub,
		ring:      ring,
		minter:    presence.NewRefMinter(),
		log:       log,
		mx:        mx,
		limit:     rate.NewLimiter(rate.Limit(200), 50),
		ops:       make(chan opRequest),
		done:      make(chan struct{}),
		local:     make(map[entryKey]record),
		remote:    make(map[string]map[entryKey]record),
		lastHeard: make(map[string]time.Time),
	}
	t.publishSnapshot()
	return t
}

// Run is the actor's main loop: owner operations, incoming gossip, and the
// heartbeat tick are all serviced from this single goroutine, eliminating
// the need for internal locking on local/remote/lastHeard (§5).
func (t *Tracker) Run(ctx context.Context) {
	gossipCh, cancelGossip := t.pubsub.Subscribe(PresenceTopic)
	defer cancelGossip()

	ticker := t.clk.NewTicker(t.cfg.BroadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return
		case <-t.done:
			return
		case req := <-t.ops:
			t.handleOp(req)
		case msg := <-gossipCh:
			t.handleHeartbeat(msg)
		case <-ticker.Chan():
			t.onTick()
		}
	}
}

// Stop ends the actor loop without emitting farewell leaves — prefer
// cancelling the context passed to Run for graceful teardown.
func (t *Tracker) Stop() {
	close(t.done)
}

func (t *Tracker) submit(req opRequest) (presence.Ref, error) {
	if !t.limit.Allow() {
		return presence.Ref{}, dispatcherrors.ErrServiceUnavailable
	}
	req.reply = make(chan opReply, 1)
	t.ops <- req
	rep := <-req.reply
	return rep.ref, rep.err
}

// Track inserts or replaces a local entry, minting a fresh Ref. Owner-only:
// fails with ErrInvalidEndpoint if endpoint.NodeID isn't this tracker's own
// node_id.
func (t *Tracker) Track(typ presence.ServiceType, ep presence.Endpoint, state presence.State) (presence.Ref, error) {
	return t.submit(opRequest{kind: opTrack, typ: typ, ep: ep, state: state})
}

// Update replaces an existing local entry, minting a fresh Ref. Owner-only:
// fails with ErrNotRegistered if no prior Track exists for (typ, ep).
func (t *Tracker) Update(typ presence.ServiceType, ep presence.Endpoint, state presence.State) (presence.Ref, error) {
	return t.submit(opRequest{kind: opUpdate, typ: typ, ep: ep, state: state})
}

// Untrack removes the local entry for (typ, ep), emitting a leave.
// Idempotent: calling it again on an already-absent entry succeeds without
// emitting a second leave.
func (t *Tracker) Untrack(typ presence.ServiceType, ep presence.Endpoint) error {
	_, err := t.submit(opRequest{kind: opUntrack, typ: typ, ep: ep})
	return err
}

// List returns a lazy, restartable, finite sequence of (endpoint, meta)
// across the merged local+remote view for typ, taken from the snapshot
// published after the most recent mutation.
func (t *Tracker) List(typ presence.ServiceType) iter.Seq[presence.Entry] {
	s := t.snap.Load()
	entries := s.byType[typ]
	return func(yield func(presence.Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Subscribe begins receiving {join, leave} events for a type-topic; the
// transport is the actual delivery mechanism (§4.1).
func (t *Tracker) Subscribe(topic string) (<-chan transport.Message, func()) {
	return t.pubsub.Subscribe(topic)
}

func (t *Tracker) handleOp(req opRequest) {
	switch req.kind {
	case opTrack:
		t.doTrack(req)
	case opUpdate:
		t.doUpdate(req)
	case opUntrack:
		t.doUntrack(req)
	}
}

func (t *Tracker) doTrack(req opRequest) {
	if req.ep.NodeID != t.nodeID {
		req.reply <- opReply{err: dispatcherrors.ErrInvalidEndpoint}
		return
	}
	key := keyOf(req.typ, req.ep)
	prior, existed := t.local[key]
	ref := t.minter.Mint()
	newMeta := presence.Meta{NodeID: t.nodeID, State: req.state, Ref: ref}
	t.local[key] = record{endpoint: req.ep, meta: newMeta}

	var leaves []presence.Entry
	if existed {
		leaves = []presence.Entry{{Type: req.typ, Endpoint: prior.endpoint, Meta: prior.meta}}
	}
	joins := []presence.Entry{{Type: req.typ, Endpoint: req.ep, Meta: newMeta}}

	t.ring.ApplyDiff(req.typ, joins, leaves)
	t.publishSnapshot()
	req.reply <- opReply{ref: ref}
}

func (t *Tracker) doUpdate(req opRequest) {
	if req.ep.NodeID != t.nodeID {
		req.reply <- opReply{err: dispatcherrors.ErrInvalidEndpoint}
		return
	}
	key := keyOf(req.typ, req.ep)
	prior, existed := t.local[key]
	if !existed {
		req.reply <- opReply{err: dispatcherrors.ErrNotRegistered}
		return
	}

	ref := t.minter.Mint()
	newMeta := presence.Meta{NodeID: t.nodeID, State: req.state, Ref: ref}
	t.local[key] = record{endpoint: req.ep, meta: newMeta}

	leaves := []presence.Entry{{Type: req.typ, Endpoint: prior.endpoint, Meta: prior.meta}}
	joins := []presence.Entry{{Type: req.typ, Endpoint: req.ep, Meta: newMeta}}

	t.ring.ApplyDiff(req.typ, joins, leaves)
	t.publishSnapshot()
	req.reply <- opReply{ref: ref}
}

func (t *Tracker) doUntrack(req opRequest) {
	key := keyOf(req.typ, req.ep)
	prior, existed := t.local[key]
	if !existed {
		req.reply <- opReply{}
		return
	}
	delete(t.local, key)

	leaves := []presence.Entry{{Type: req.typ, Endpoint: prior.endpoint, Meta: prior.meta}}
	t.ring.ApplyDiff(req.typ, nil, leaves)
	t.publishSnapshot()
	req.reply <- opReply{}
}

// shutdown emits leaves for every local entry, flushes one final
// heartbeat, then returns — the graceful shutdown sequence from §5.
func (t *Tracker) shutdown() {
	byType := make(map[presence.ServiceType][]presence.Entry)
	for key, rec := range t.local {
		byType[key.typ] = append(byType[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
	}
	for typ, leaves := range byType {
		t.ring.ApplyDiff(typ, nil, leaves)
	}
	t.local = make(map[entryKey]record)
	t.broadcastHeartbeat()
	t.publishSnapshot()
}

func (t *Tracker) publishSnapshot() {
	byType := make(map[presence.ServiceType][]presence.Entry)

	for key, rec := range t.local {
		byType[key.typ] = append(byType[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
	}
	for _, peerEntries := range t.remote {
		for key, rec := range peerEntries {
			byType[key.typ] = append(byType[key.typ], presence.Entry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
		}
	}

	t.snap.Store(&snapshot{byType: byType})
}

func (t *Tracker) broadcastHeartbeat() {
	entries := make([]wireEntry, 0, len(t.local))
	for key, rec := range t.local {
		entries = append(entries, wireEntry{Type: key.typ, Endpoint: rec.endpoint, Meta: rec.meta})
	}
	payload, err := json.Marshal(heartbeatPayload{NodeID: t.nodeID, Entries: entries})
	if err != nil {
		t.log.Error("failed to marshal heartbeat", zap.Error(err))
		return
	}
	if err := t.pubsub.Broadcast(PresenceTopic, payload); err != nil {
		// Non-fatal: heartbeats are self-healing on the next tick (§4.1).
		t.log.Warn("transport error broadcasting heartbeat", zap.Error(err))
		t.mx.IncrCounter("transport_error", 1)
	}
	t.mx.IncrCounter("heartbeat_sent", 1)
}

func (t *Tracker) onTick() {
	t.broadcastHeartbeat()
	t.expirePeers()
}
