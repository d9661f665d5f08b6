package registry

import (
	"context"
	"testing"
	"time"

	"github.com/dispatch-cluster/dispatch/clock"
	"github.com/dispatch-cluster/dispatch/dispatcherrors"
	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/ring"
	"github.com/dispatch-cluster/dispatch/transport"
	"github.com/dispatch-cluster/dispatch/tracker"
)

func newTestFacade(t *testing.T, nodeID string, pubsub transport.PubSub) *Facade {
	t.Helper()
	mgr := ring.NewManager(pubsub, 32, nil)
	tr := tracker.New(nodeID, tracker.DefaultConfig(), clock.Real{}, pubsub, mgr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	t.Cleanup(cancel)

	return New(nodeID, tr, mgr, nil)
}

func waitForRegistry(t *testing.T, cond func() bool) {
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

func TestAddServiceThenFind(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))

	if _, err := f.AddService("svc", []byte("worker-1")); err != nil {
		t.Fatal(err)
	}

	waitForRegistry(t, func() bool {
		_, err := f.FindService("svc", []byte("k"))
		return err == nil
	})

	ep, err := f.FindService("svc", []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(ep.LocalHandle) != "worker-1" {
		t.Fatalf("expect worker-1, got %s", ep.LocalHandle)
	}
}

func TestFindServiceNoServiceForKey(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))

	if _, err := f.FindService("unseen", []byte("k")); err != dispatcherrors.ErrNoServiceForKey {
		t.Fatalf("expect ErrNoServiceForKey, got %v", err)
	}
}

func TestDisableServiceRemovesFromRingNotFromGetServices(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))
	f.AddService("svc", []byte("worker-1"))
	waitForRegistry(t, func() bool {
		_, err := f.FindService("svc", []byte("k"))
		return err == nil
	})

	if err := f.DisableService("svc", []byte("worker-1")); err != nil {
		t.Fatal(err)
	}

	waitForRegistry(t, func() bool {
		_, err := f.FindService("svc", []byte("k"))
		return err == dispatcherrors.ErrNoServiceForKey
	})

	all := f.GetServices("svc")
	if len(all) != 1 {
		t.Fatalf("expect DisableService to keep the entry visible in GetServices, got %d entries", len(all))
	}
	if all[0].Meta.State != presence.Offline {
		t.Fatal("expect entry state to be offline after DisableService")
	}

	online := f.GetOnlineServices("svc")
	if len(online) != 0 {
		t.Fatal("expect GetOnlineServices to exclude a disabled entry")
	}
}

func TestEnableServiceWithoutAddFails(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))
	if err := f.EnableService("svc", []byte("ghost")); err != dispatcherrors.ErrNotRegistered {
		t.Fatalf("expect ErrNotRegistered, got %v", err)
	}
}

func TestRemoveServiceIsIdempotent(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))
	f.AddService("svc", []byte("worker-1"))
	if err := f.RemoveService("svc", []byte("worker-1")); err != nil {
		t.Fatal(err)
	}
	if err := f.RemoveService("svc", []byte("worker-1")); err != nil {
		t.Fatal(err)
	}
}

type fakeWatchable struct {
	done chan struct{}
}

func (w *fakeWatchable) Done() <-chan struct{} { return w.done }

func TestAddServiceWithLivenessAutoRemoves(t *testing.T) {
	f := newTestFacade(t, "n1", transport.NewLocal("n1"))
	watch := &fakeWatchable{done: make(chan struct{})}

	f.AddService("svc", []byte("worker-1"), WithLiveness(watch))
	waitForRegistry(t, func() bool {
		return len(f.GetServices("svc")) == 1
	})

	close(watch.done)

	waitForRegistry(t, func() bool {
		return len(f.GetServices("svc")) == 0
	})
}

func TestSubscribeReplaysCatchUpThenForwardsLive(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	f := newTestFacade(t, "n1", pubsub)

	f.AddService("svc", []byte("worker-1"))
	waitForRegistry(t, func() bool {
		return len(f.GetOnlineServices("svc")) == 1
	})

	ch, cancel := f.Subscribe("svc")
	defer cancel()

	select {
	case msg := <-ch:
		ev, err := ring.UnmarshalEvent(msg.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind != ring.EventJoin {
			t.Fatalf("expect the catch-up replay to be a join, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expect an immediate catch-up replay for the already-online entry")
	}

	f.AddService("svc", []byte("worker-2"))

	select {
	case msg := <-ch:
		ev, err := ring.UnmarshalEvent(msg.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind != ring.EventJoin || string(ev.Endpoint.LocalHandle) != "worker-2" {
			t.Fatalf("expect a live join for worker-2, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expect the live join to be forwarded")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	pubsub := transport.NewLocal("n1")
	f := newTestFacade(t, "n1", pubsub)

	ch, cancel := f.Subscribe("svc")
	cancel()

	f.AddService("svc", []byte("worker-1"))

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expect no further delivery after cancel")
		}
	case <-time.After(200 * time.Millisecond):
	}
}
