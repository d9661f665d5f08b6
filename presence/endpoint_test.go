package presence

import "testing"

func TestEndpointKeyDistinguishesHandles(t *testing.T) {
	a := Endpoint{NodeID: "n1", LocalHandle: []byte("worker-1")}
	b := Endpoint{NodeID: "n1", LocalHandle: []byte("worker-2")}
	c := Endpoint{NodeID: "n1", LocalHandle: []byte("worker-1")}

	if a.Key() == b.Key() {
		t.Fatal("distinct local handles must not collide")
	}
	if a.Key() != c.Key() {
		t.Fatal("identical endpoints must produce the same key")
	}
}

func TestEndpointSerializeNoAmbiguity(t *testing.T) {
	// "ab" + "c" must not serialize to the same bytes as "a" + "bc" — the
	// length prefixes exist precisely to prevent this.
	a := Endpoint{NodeID: "ab", LocalHandle: []byte("c")}
	b := Endpoint{NodeID: "a", LocalHandle: []byte("bc")}

	if a.Key() == b.Key() {
		t.Fatal("length-prefixed serialization must disambiguate field boundaries")
	}
}

func TestRefMinterMonotonic(t *testing.T) {
	m := NewRefMinter()
	prev := m.Mint()
	for i := 0; i < 100; i++ {
		next := m.Mint()
		if !prev.Less(next) {
			t.Fatalf("expected %+v < %+v", prev, next)
		}
		prev = next
	}
}

func TestRefMinterDistinctEpochs(t *testing.T) {
	a := NewRefMinter()
	b := NewRefMinter()
	if a.Mint().Epoch == b.Mint().Epoch {
		t.Fatal("two minters should not collide on epoch (random UUIDv4 collision)")
	}
}

func TestRefEqual(t *testing.T) {
	r1 := Ref{Epoch: 1, Seq: 2}
	r2 := Ref{Epoch: 1, Seq: 2}
	r3 := Ref{Epoch: 1, Seq: 3}

	if !r1.Equal(r2) {
		t.Fatal("identical refs must be equal")
	}
	if r1.Equal(r3) {
		t.Fatal("refs with different seq must not be equal")
	}
}
