package ring

import (
	"testing"

	"github.com/dispatch-cluster/dispatch/presence"
)

func ep(node string) presence.Endpoint {
	return presence.Endpoint{NodeID: node, LocalHandle: []byte("h")}
}

func TestEmptyRingFindOne(t *testing.T) {
	r := Empty(8)
	if _, ok := r.FindOne([]byte("k")); ok {
		t.Fatal("empty ring must not resolve any key")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	r := Empty(8)
	a := ep("n1")
	r1 := r.Add(a)
	r2 := r1.Add(a)
	if r2.Len() != 1 {
		t.Fatalf("expect 1 member after adding the same endpoint twice, got %d", r2.Len())
	}
}

func TestRemoveIsDropIfPresent(t *testing.T) {
	r := Empty(8)
	a := ep("n1")
	r1 := r.Remove(a) // removing an absent endpoint must be a no-op
	if r1.Len() != 0 {
		t.Fatalf("expect 0 members, got %d", r1.Len())
	}
	r2 := r.Add(a).Remove(a)
	if r2.Contains(a) {
		t.Fatal("endpoint should be gone after Remove")
	}
}

func TestHashRingIsImmutable(t *testing.T) {
	r := Empty(8)
	a := ep("n1")
	r1 := r.Add(a)
	if r.Len() != 0 {
		t.Fatal("Add must not mutate the receiver")
	}
	if r1.Len() != 1 {
		t.Fatal("Add must return a ring with the new member")
	}
}

func TestFindOneDeterministic(t *testing.T) {
	r := Empty(32)
	for _, n := range []string{"n1", "n2", "n3", "n4"} {
		r = r.Add(ep(n))
	}

	first, ok := r.FindOne([]byte("routing-key"))
	if !ok {
		t.Fatal("expect a resolution")
	}
	for i := 0; i < 20; i++ {
		again, _ := r.FindOne([]byte("routing-key"))
		if again.Key() != first.Key() {
			t.Fatal("FindOne must be a pure function of (ring contents, key)")
		}
	}
}

func TestFindManyDistinctAndBounded(t *testing.T) {
	r := Empty(32)
	for _, n := range []string{"n1", "n2", "n3"} {
		r = r.Add(ep(n))
	}

	eps := r.FindMany([]byte("k"), 5)
	if len(eps) != 3 {
		t.Fatalf("expect FindMany to cap at the ring's distinct member count (3), got %d", len(eps))
	}
	seen := make(map[string]bool)
	for _, e := range eps {
		if seen[e.Key()] {
			t.Fatal("FindMany must not return duplicate endpoints")
		}
		seen[e.Key()] = true
	}
}

func TestFindManyShortRing(t *testing.T) {
	r := Empty(32).Add(ep("only-one"))
	eps := r.FindMany([]byte("k"), 5)
	if len(eps) != 1 {
		t.Fatalf("expect 1 endpoint from a single-member ring, got %d", len(eps))
	}
}

func TestMostKeysStayOnRemoveOfUnrelatedMember(t *testing.T) {
	// Consistent hashing's whole point: removing one member should only
	// reshuffle the keys that were routed to it.
	const n = 500
	base := Empty(64)
	for _, node := range []string{"n1", "n2", "n3", "n4"} {
		base = base.Add(ep(node))
	}

	before := make(map[int]string, n)
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		e, _ := base.FindOne(key)
		before[i] = e.Key()
	}

	after := base.Remove(ep("n2"))
	moved := 0
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		e, _ := after.FindOne(key)
		if e.Key() != before[i] {
			moved++
		}
	}

	// Removing 1 of 4 members should move roughly 1/4 of keys, never all
	// of them — a generous bound catches a broken ring without being flaky.
	if moved > n*2/3 {
		t.Fatalf("removing one member moved %d/%d keys, want roughly n/4", moved, n)
	}
}

func TestManagerApplyDiffReplaceInPlaceStaysOnRing(t *testing.T) {
	m := NewManager(nil, 32, nil)
	e := ep("n1")

	m.ApplyDiff("svc", []presence.Entry{{Type: "svc", Endpoint: e, Meta: presence.Meta{State: presence.Online}}}, nil)
	if !m.ringSnapshot("svc").Contains(e) {
		t.Fatal("expect endpoint present after initial join")
	}

	// A replace-in-place: leave(old) + join(new), same endpoint, both in
	// one diff. The endpoint must never disappear from the ring.
	m.ApplyDiff("svc",
		[]presence.Entry{{Type: "svc", Endpoint: e, Meta: presence.Meta{State: presence.Online}}},
		[]presence.Entry{{Type: "svc", Endpoint: e, Meta: presence.Meta{State: presence.Online}}},
	)
	if !m.ringSnapshot("svc").Contains(e) {
		t.Fatal("replace-in-place must not remove the endpoint from the ring")
	}
}

func TestManagerApplyDiffOfflineJoinRemoves(t *testing.T) {
	m := NewManager(nil, 32, nil)
	e := ep("n1")
	m.ApplyDiff("svc", []presence.Entry{{Type: "svc", Endpoint: e, Meta: presence.Meta{State: presence.Online}}}, nil)

	m.ApplyDiff("svc", []presence.Entry{{Type: "svc", Endpoint: e, Meta: presence.Meta{State: presence.Offline}}}, nil)
	if m.ringSnapshot("svc").Contains(e) {
		t.Fatal("a join carrying an offline meta must remove the endpoint from the ring")
	}
}

func TestManagerFindOneNoServiceForKey(t *testing.T) {
	m := NewManager(nil, 32, nil)
	if _, err := m.FindOne("svc", []byte("k")); err != ErrNoServiceForKey {
		t.Fatalf("expect ErrNoServiceForKey for an unseen type, got %v", err)
	}
}
