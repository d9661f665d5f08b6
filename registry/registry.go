// Package registry implements the Registry Facade (§4.3): the public API
// for adding, enabling, disabling, and removing local endpoints, and for
// querying the cluster's presence view. It is the only component that
// knows about a local endpoint's liveness — everything else (tracker,
// ring) only ever sees explicit Track/Update/Untrack calls.
package registry

import (
	"github.com/dispatch-cluster/dispatch/dispatcherrors"
	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/ring"
	"github.com/dispatch-cluster/dispatch/transport"
	"github.com/dispatch-cluster/dispatch/tracker"
	"go.uber.org/zap"
)

// Watchable is whatever the host runtime offers for peer-task death
// notification — a goroutine done-channel, a cancellation context, a
// thread-pool token — translated from the source platform's process
// monitors (§9). AddService with WithLiveness spawns a small goroutine
// that calls RemoveService once Done fires.
type Watchable interface {
	Done() <-chan struct{}
}

// Facade is the Registry Facade: the public entry point applications use
// to manage their own endpoints and query the cluster's presence view.
type Facade struct {
	nodeID  string
	tracker *tracker.Tracker
	ring    *ring.Manager
	log     *zap.Logger
}

// New constructs a Facade over an already-running tracker and ring
// manager. Both are normally owned by a dispatch.Node's Supervisor.
func New(nodeID string, t *tracker.Tracker, r *ring.Manager, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{nodeID: nodeID, tracker: t, ring: r, log: log}
}

// AddOption configures AddService.
type AddOption func(*addOptions)

type addOptions struct {
	liveness Watchable
}

// WithLiveness arranges for RemoveService to be called automatically once
// w.Done() fires, translating "owner-process death" into an implicit
// remove_service (§7).
func WithLiveness(w Watchable) AddOption {
	return func(o *addOptions) { o.liveness = w }
}

// AddService registers localHandle as an online endpoint of typ owned by
// this node. Returns the minted version token.
func (f *Facade) AddService(typ presence.ServiceType, localHandle []byte, opts ...AddOption) (presence.Ref, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	ep := presence.Endpoint{NodeID: f.nodeID, LocalHandle: localHandle}
	ref, err := f.tracker.Track(typ, ep, presence.Online)
	if err != nil {
		return presence.Ref{}, err
	}

	if o.liveness != nil {
		go func() {
			<-o.liveness.Done()
			if err := f.RemoveService(typ, localHandle); err != nil {
				f.log.Warn("failed to remove service after liveness death",
					zap.String("type", string(typ)), zap.Error(err))
			}
		}()
	}
	return ref, nil
}

// EnableService flips localHandle's state to online. Fails with
// ErrNotRegistered if no prior AddService call registered it.
func (f *Facade) EnableService(typ presence.ServiceType, localHandle []byte) error {
	ep := presence.Endpoint{NodeID: f.nodeID, LocalHandle: localHandle}
	_, err := f.tracker.Update(typ, ep, presence.Online)
	return err
}

// DisableService flips localHandle's state to offline. Fails with
// ErrNotRegistered if no prior AddService call registered it.
func (f *Facade) DisableService(typ presence.ServiceType, localHandle []byte) error {
	ep := presence.Endpoint{NodeID: f.nodeID, LocalHandle: localHandle}
	_, err := f.tracker.Update(typ, ep, presence.Offline)
	return err
}

// RemoveService unregisters localHandle. Idempotent: succeeds even if not
// currently present.
func (f *Facade) RemoveService(typ presence.ServiceType, localHandle []byte) error {
	ep := presence.Endpoint{NodeID: f.nodeID, LocalHandle: localHandle}
	return f.tracker.Untrack(typ, ep)
}

// GetServices returns every known (endpoint, meta) for typ — online and
// offline — across the merged local+remote presence view.
func (f *Facade) GetServices(typ presence.ServiceType) []presence.Entry {
	var out []presence.Entry
	for e := range f.tracker.List(typ) {
		out = append(out, e)
	}
	return out
}

// GetOnlineServices returns GetServices filtered to state == online.
func (f *Facade) GetOnlineServices(typ presence.ServiceType) []presence.Entry {
	var out []presence.Entry
	for e := range f.tracker.List(typ) {
		if e.Meta.State == presence.Online {
			out = append(out, e)
		}
	}
	return out
}

// FindService resolves key to a single online endpoint of typ.
func (f *Facade) FindService(typ presence.ServiceType, key []byte) (presence.Endpoint, error) {
	ep, err := f.ring.FindOne(typ, key)
	if err != nil {
		return presence.Endpoint{}, dispatcherrors.ErrNoServiceForKey
	}
	return ep, nil
}

// FindMultiService resolves key to up to count distinct online endpoints
// of typ.
func (f *Facade) FindMultiService(count int, typ presence.ServiceType, key []byte) ([]presence.Endpoint, error) {
	eps, err := f.ring.FindMany(typ, key, count)
	if err != nil {
		return nil, dispatcherrors.ErrNoServiceForKey
	}
	return eps, nil
}

// Subscribe begins receiving join/leave events for typ. Per §8's
// round-trip property, the subscription first replays a synthetic join
// for every currently-online endpoint as catch-up, then forwards live
// events; cancel stops both.
func (f *Facade) Subscribe(typ presence.ServiceType) (<-chan transport.Message, func()) {
	topic := string(typ)
	live, cancelLive := f.tracker.Subscribe(topic)

	out := make(chan transport.Message, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for _, e := range f.GetOnlineServices(typ) {
			ev := ring.Event{Kind: ring.EventJoin, Endpoint: e.Endpoint, Meta: e.Meta}
			payload, err := ev.Marshal()
			if err != nil {
				continue
			}
			select {
			case out <- transport.Message{Topic: topic, Payload: payload, SourceNode: f.nodeID}:
			case <-done:
				return
			}
		}
		for {
			select {
			case msg, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		cancelLive()
		select {
		case <-done:
		default:
			close(done)
		}
	}
	return out, cancel
}
