// Package ring implements the per-service-type consistent-hash ring: the
// (key -> endpoint) and (key, count -> endpoints) lookups that back
// find_service/find_multi_service, and the diff-apply step that keeps a
// ring in lockstep with the tracker's local view.
//
// Reads are served off an immutable snapshot published by copy-on-write on
// every mutation (Add/Remove), the way gobwas/hashring keeps its AVL tree
// immutable so readers never block on a writer — here a flat sorted slice
// plays the same role, since ring sizes in this domain (endpoints, not
// arbitrary objects) stay small enough that rebuild-on-write is cheap.
package ring

import (
	"bytes"
	"sort"

	"github.com/dispatch-cluster/dispatch/presence"
)

// DefaultVnodesPerEndpoint is the default virtual-node replication factor.
const DefaultVnodesPerEndpoint = 128

type vnode struct {
	hash     uint64
	endpoint presence.Endpoint
}

// HashRing is an immutable consistent-hash ring over a set of endpoints.
// Values are never mutated in place — Add/Remove return a new ring,
// allowing readers to retain one snapshot safely across reads (§5).
type HashRing struct {
	replicas int
	vnodes   []vnode // sorted by (hash, serialize(endpoint)) for deterministic tie-breaks
	members  map[string]presence.Endpoint
}

// Empty returns a HashRing with no members and the given replication
// factor.
func Empty(vnodesPerEndpoint int) *HashRing {
	if vnodesPerEndpoint <= 0 {
		vnodesPerEndpoint = DefaultVnodesPerEndpoint
	}
	return &HashRing{
		replicas: vnodesPerEndpoint,
		members:  make(map[string]presence.Endpoint),
	}
}

// Add returns a ring with endpoint present. Idempotent: adding an endpoint
// already on the ring returns an equivalent ring.
func (r *HashRing) Add(endpoint presence.Endpoint) *HashRing {
	key := endpoint.Key()
	if _, ok := r.members[key]; ok {
		return r
	}

	next := r.clone()
	next.members[key] = endpoint

	ser := endpoint.Serialize()
	for i := 0; i < r.replicas; i++ {
		vk := append(append([]byte{}, ser...), encodeVnodeIndex(i)...)
		next.vnodes = append(next.vnodes, vnode{hash: hashKey(vk), endpoint: endpoint})
	}
	sort.Slice(next.vnodes, func(i, j int) bool {
		return lessVnode(next.vnodes[i], next.vnodes[j])
	})
	return next
}

// Remove returns a ring with endpoint absent. Drop-if-present: removing an
// endpoint not on the ring returns an equivalent ring.
func (r *HashRing) Remove(endpoint presence.Endpoint) *HashRing {
	key := endpoint.Key()
	if _, ok := r.members[key]; !ok {
		return r
	}

	next := r.clone()
	delete(next.members, key)
	filtered := next.vnodes[:0:0]
	for _, v := range next.vnodes {
		if v.endpoint.Key() != key {
			filtered = append(filtered, v)
		}
	}
	next.vnodes = filtered
	return next
}

// Contains reports whether endpoint is currently a ring member.
func (r *HashRing) Contains(endpoint presence.Endpoint) bool {
	_, ok := r.members[endpoint.Key()]
	return ok
}

// Len returns the number of distinct endpoints on the ring.
func (r *HashRing) Len() int {
	return len(r.members)
}

// FindOne returns the endpoint whose smallest vnode hash is >= hash(key),
// wrapping around the ring. Pure function of (ring contents, key).
func (r *HashRing) FindOne(key []byte) (presence.Endpoint, bool) {
	if len(r.vnodes) == 0 {
		return presence.Endpoint{}, false
	}
	h := hashKey(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= h
	})
	if idx == len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].endpoint, true
}

// FindMany returns up to count distinct endpoints walking clockwise from
// the key's hash position. Shorter than count iff the ring holds fewer
// distinct endpoints than count. Deterministic given ring contents.
func (r *HashRing) FindMany(key []byte, count int) []presence.Endpoint {
	if len(r.vnodes) == 0 || count <= 0 {
		return nil
	}
	h := hashKey(key)
	start := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= h
	})

	seen := make(map[string]struct{}, count)
	result := make([]presence.Endpoint, 0, count)
	for i := 0; i < len(r.vnodes) && len(result) < count; i++ {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		k := v.endpoint.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, v.endpoint)
	}
	return result
}

// GetAll returns every distinct endpoint currently on the ring. Order is
// unspecified.
func (r *HashRing) GetAll() []presence.Endpoint {
	out := make([]presence.Endpoint, 0, len(r.members))
	for _, e := range r.members {
		out = append(out, e)
	}
	return out
}

func (r *HashRing) clone() *HashRing {
	members := make(map[string]presence.Endpoint, len(r.members)+1)
	for k, v := range r.members {
		members[k] = v
	}
	vnodes := make([]vnode, len(r.vnodes), len(r.vnodes)+r.replicas)
	copy(vnodes, r.vnodes)
	return &HashRing{replicas: r.replicas, vnodes: vnodes, members: members}
}

// lessVnode orders vnodes by hash, breaking ties by the lexicographic order
// of the owning endpoint's canonical serialization (§4.2's tie-break rule).
func lessVnode(a, b vnode) bool {
	if a.hash != b.hash {
		return a.hash < b.hash
	}
	return bytes.Compare(a.endpoint.Serialize(), b.endpoint.Serialize()) < 0
}

func encodeVnodeIndex(i int) []byte {
	return []byte{'#', byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
}
