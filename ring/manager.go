package ring

import (
	"sync"

	"github.com/dispatch-cluster/dispatch/presence"
	"github.com/dispatch-cluster/dispatch/transport"
	"go.uber.org/zap"
)

// Manager holds one consistent-hash ring per service type and keeps them in
// lockstep with diffs fed by a tracker. Reads (FindOne/FindMany/GetAll) are
// served off an immutable ring snapshot, loaded under a read lock and then
// used without locking (§5). ApplyDiff builds the new ring while holding the
// write lock, so a read that arrives during a diff waits for it.
type Manager struct {
	mu                sync.RWMutex
	rings             map[presence.ServiceType]*HashRing
	vnodesPerEndpoint int
	pubsub            transport.PubSub
	log               *zap.Logger
}

// NewManager creates a Manager publishing join/leave events on pubsub.
func NewManager(pubsub transport.PubSub, vnodesPerEndpoint int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		rings:             make(map[presence.ServiceType]*HashRing),
		vnodesPerEndpoint: vnodesPerEndpoint,
		pubsub:            pubsub,
		log:               log,
	}
}

// ApplyDiff applies a (type, joins, leaves) diff to the ring for type,
// creating it if absent, and publishes the resulting join/leave events to
// local subscribers of the type-topic (§4.2 operation 1-3, §6 per-type
// events).
//
// Leaves are applied before joins so that a {leave(X), join(X)} pair — the
// replace-in-place case — resolves to X present in the ring (§4.1 diff
// emission ordering).
func (m *Manager) ApplyDiff(typ presence.ServiceType, joins, leaves []presence.Entry) {
	m.mu.Lock()
	r, ok := m.rings[typ]
	if !ok {
		r = Empty(m.vnodesPerEndpoint)
	}

	joinedOnline := make(map[string]bool, len(joins))
	for _, j := range joins {
		if j.Meta.State == presence.Online {
			joinedOnline[j.Endpoint.Key()] = true
		}
	}

	for _, l := range leaves {
		if !joinedOnline[l.Endpoint.Key()] {
			r = r.Remove(l.Endpoint)
		}
	}
	for _, j := range joins {
		if j.Meta.State == presence.Online {
			r = r.Add(j.Endpoint)
		} else {
			r = r.Remove(j.Endpoint)
		}
	}

	m.rings[typ] = r
	m.mu.Unlock()

	m.publishEvents(typ, joins, leaves)
}

func (m *Manager) publishEvents(typ presence.ServiceType, joins, leaves []presence.Entry) {
	if m.pubsub == nil {
		return
	}
	topic := string(typ)
	for _, l := range leaves {
		m.publish(topic, Event{Kind: EventLeave, Endpoint: l.Endpoint, Meta: l.Meta})
	}
	for _, j := range joins {
		m.publish(topic, Event{Kind: EventJoin, Endpoint: j.Endpoint, Meta: j.Meta})
	}
}

func (m *Manager) publish(topic string, ev Event) {
	payload, err := ev.Marshal()
	if err != nil {
		m.log.Warn("failed to marshal ring event", zap.Error(err))
		return
	}
	if err := m.pubsub.DirectBroadcast(m.pubsub.NodeID(), topic, payload); err != nil {
		m.log.Warn("failed to publish ring event", zap.String("topic", topic), zap.Error(err))
	}
}

// ringSnapshot returns the current ring for typ, or an empty ring if the
// type has never been seen.
func (m *Manager) ringSnapshot(typ presence.ServiceType) *HashRing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rings[typ]
	if !ok {
		return Empty(m.vnodesPerEndpoint)
	}
	return r
}

// FindOne resolves key to a single endpoint for typ.
func (m *Manager) FindOne(typ presence.ServiceType, key []byte) (presence.Endpoint, error) {
	r := m.ringSnapshot(typ)
	ep, ok := r.FindOne(key)
	if !ok {
		return presence.Endpoint{}, ErrNoServiceForKey
	}
	return ep, nil
}

// FindMany resolves key to up to count distinct endpoints for typ.
func (m *Manager) FindMany(typ presence.ServiceType, key []byte, count int) ([]presence.Endpoint, error) {
	r := m.ringSnapshot(typ)
	result := r.FindMany(key, count)
	if len(result) == 0 {
		return nil, ErrNoServiceForKey
	}
	return result, nil
}

// GetAll returns every online endpoint currently on the ring for typ.
func (m *Manager) GetAll(typ presence.ServiceType) []presence.Endpoint {
	return m.ringSnapshot(typ).GetAll()
}
