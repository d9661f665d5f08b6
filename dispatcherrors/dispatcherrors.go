// Package dispatcherrors centralizes the error taxonomy (§7) so call sites
// across tracker, ring, registry, and client can compare with errors.Is
// instead of matching on formatted strings.
package dispatcherrors

import "errors"

var (
	// ErrNotRegistered is returned by update/enable/disable on an
	// (type, endpoint) pair the local tracker does not own.
	ErrNotRegistered = errors.New("dispatch: endpoint not registered")

	// ErrNoServiceForKey is returned when the ring manager could not
	// resolve a key: the type's ring is absent or empty.
	ErrNoServiceForKey = errors.New("dispatch: no service for key")

	// ErrServiceUnavailable is surfaced by client sugar when endpoint
	// resolution fails before a delivery attempt is made.
	ErrServiceUnavailable = errors.New("dispatch: service unavailable")

	// ErrTimeout is returned by Call/MultiCall when the deadline elapses
	// before a reply arrives.
	ErrTimeout = errors.New("dispatch: call timed out")

	// ErrInvalidEndpoint is returned by Track when the endpoint is not a
	// valid local handle for the calling node.
	ErrInvalidEndpoint = errors.New("dispatch: endpoint is not a valid local handle")

	// ErrOwnerMismatch names the case of an endpoint claiming a different
	// owning node. No operation in this module returns it: Track and Update
	// reject a foreign endpoint with ErrInvalidEndpoint.
	ErrOwnerMismatch = errors.New("dispatch: endpoint owned by a different node")
)
