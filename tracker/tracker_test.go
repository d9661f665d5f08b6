package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dispatch-cluster/dispatch/clock"
	"github.com/dispatch-cluster/dispatch/dispatcherrors"
	"github.com/dispatch-cluster/dispatch/metrics"
	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/transport"
)

// recordingRing is a fake RingApplier that records every diff it's handed,
// so tests can assert on join/leave ordering without a real ring.
type recordingRing struct {
	mu    sync.Mutex
	diffs []diffCall
}

type diffCall struct {
	typ    presence.ServiceType
	joins  []presence.Entry
	leaves []presence.Entry
}

func (r *recordingRing) ApplyDiff(typ presence.ServiceType, joins, leaves []presence.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, diffCall{typ: typ, joins: joins, leaves: leaves})
}

func (r *recordingRing) last() diffCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffs[len(r.diffs)-1]
}

func (r *recordingRing) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func newTestTracker(t *testing.T, nodeID string, pubsub transport.PubSub, clk clock.Clock) (*Tracker, *recordingRing) {
	t.Helper()
	ring := &recordingRing{}
	tr := New(nodeID, DefaultConfig(), clk, pubsub, ring, nil, metrics.NewSink(nil))
	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	t.Cleanup(cancel)
	return tr, ring
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestTrackRejectsForeignEndpoint(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	tr, _ := newTestTracker(t, "n1", pubsub, clock.Real{})

	foreign := presence.Endpoint{NodeID: "n2", LocalHandle: []byte("h")}
	_, err := tr.Track("svc", foreign, presence.Online)
	if err != dispatcherrors.ErrInvalidEndpoint {
		t.Fatalf("expect ErrInvalidEndpoint, got %v", err)
	}
}

func TestTrackThenListFindsEntry(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	tr, ring := newTestTracker(t, "n1", pubsub, clock.Real{})

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	ref, err := tr.Track("svc", ep, presence.Online)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return ring.count() == 1 })
	call := ring.last()
	if len(call.joins) != 1 || len(call.leaves) != 0 {
		t.Fatalf("expect a bare join on first Track, got %+v", call)
	}

	var found presence.Entry
	ok := false
	for e := range tr.List("svc") {
		found = e
		ok = true
	}
	if !ok {
		t.Fatal("expect List to surface the tracked entry")
	}
	if !found.Meta.Ref.Equal(ref) {
		t.Fatal("listed entry's ref must match the one returned by Track")
	}
}

func TestUpdateWithoutTrackFails(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	tr, _ := newTestTracker(t, "n1", pubsub, clock.Real{})

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	_, err := tr.Update("svc", ep, presence.Offline)
	if err != dispatcherrors.ErrNotRegistered {
		t.Fatalf("expect ErrNotRegistered, got %v", err)
	}
}

func TestUpdateEmitsLeaveThenJoin(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	tr, ring := newTestTracker(t, "n1", pubsub, clock.Real{})

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	first, _ := tr.Track("svc", ep, presence.Online)
	waitFor(t, func() bool { return ring.count() == 1 })

	second, err := tr.Update("svc", ep, presence.Online)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Less(second) {
		t.Fatal("Update must mint a strictly newer ref")
	}

	waitFor(t, func() bool { return ring.count() == 2 })
	call := ring.last()
	if len(call.leaves) != 1 || len(call.joins) != 1 {
		t.Fatalf("expect a replace-in-place {leave,join} pair, got %+v", call)
	}
	if !call.leaves[0].Meta.Ref.Equal(first) {
		t.Fatal("leave must carry the prior ref")
	}
	if !call.joins[0].Meta.Ref.Equal(second) {
		t.Fatal("join must carry the new ref")
	}
}

func TestUntrackIsIdempotent(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	tr, ring := newTestTracker(t, "n1", pubsub, clock.Real{})

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	tr.Track("svc", ep, presence.Online)
	waitFor(t, func() bool { return ring.count() == 1 })

	if err := tr.Untrack("svc", ep); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ring.count() == 2 })

	countAfterFirst := ring.count()
	if err := tr.Untrack("svc", ep); err != nil {
		t.Fatal(err)
	}
	// A second Untrack on an already-absent entry must not emit another
	// diff — give the actor loop a moment to (not) process anything.
	time.Sleep(20 * time.Millisecond)
	if ring.count() != countAfterFirst {
		t.Fatalf("expect no new diff from a redundant Untrack, had %d now %d", countAfterFirst, ring.count())
	}

	empty := true
	for range tr.List("svc") {
		empty = false
	}
	if !empty {
		t.Fatal("expect List to be empty after Untrack")
	}
}

func TestHeartbeatConvergesRemoteView(t *testing.T) {
	cluster := transport.NewLocalCluster("n1", "n2")
	fc := clock.NewFake(time.Unix(0, 0))

	cfg := Config{BroadcastPeriod: time.Second, MaxSilentPeriods: 20}
	ring1 := &recordingRing{}
	ring2 := &recordingRing{}
	t1 := New("n1", cfg, fc, cluster["n1"], ring1, nil, metrics.NewSink(nil))
	t2 := New("n2", cfg, fc, cluster["n2"], ring2, nil, metrics.NewSink(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go t1.Run(ctx)
	go t2.Run(ctx)

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	t1.Track("svc", ep, presence.Online)

	fc.Advance(cfg.BroadcastPeriod)

	waitFor(t, func() bool {
		for range t2.List("svc") {
			return true
		}
		return false
	})
}

func TestExpirePeersSynthesizesLeaves(t *testing.T) {
	cluster := transport.NewLocalCluster("n1", "n2")
	fc := clock.NewFake(time.Unix(0, 0))

	cfg := Config{BroadcastPeriod: time.Second, MaxSilentPeriods: 3}
	ring1 := &recordingRing{}
	ring2 := &recordingRing{}
	t1 := New("n1", cfg, fc, cluster["n1"], ring1, nil, metrics.NewSink(nil))
	t2 := New("n2", cfg, fc, cluster["n2"], ring2, nil, metrics.NewSink(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go t1.Run(ctx)
	go t2.Run(ctx)

	ep := presence.Endpoint{NodeID: "n1", LocalHandle: []byte("h")}
	t1.Track("svc", ep, presence.Online)
	fc.Advance(cfg.BroadcastPeriod)

	waitFor(t, func() bool {
		for range t2.List("svc") {
			return true
		}
		return false
	})

	// Sever n1 so its heartbeats stop arriving, then advance past the
	// expiry horizon on n2's clock.
	cluster["n1"].Sever()
	for i := 0; i < cfg.MaxSilentPeriods+1; i++ {
		fc.Advance(cfg.BroadcastPeriod)
	}

	waitFor(t, func() bool {
		for range t2.List("svc") {
			return false
		}
		return true
	})
}
