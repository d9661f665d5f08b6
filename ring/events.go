package ring

import (
	"encoding/json"
	"errors"

	"github.com/dispatch-cluster/dispatch/presence"
)

// ErrNoServiceForKey is returned when a type's ring is absent or empty.
var ErrNoServiceForKey = errors.New("ring: no service for key")

// EventKind distinguishes join from leave events published on a type-topic.
type EventKind string

const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
)

// Event is the payload published on a service type's topic whenever ring
// membership changes (§6 per-type events: {:join | :leave, endpoint, meta}).
type Event struct {
	Kind     EventKind        `json:"kind"`
	Endpoint presence.Endpoint `json:"endpoint"`
	Meta     presence.Meta     `json:"meta"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
