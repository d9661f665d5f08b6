// Package client implements the thin request/reply sugar layer described
// in §4.4: Cast, Call, MultiCast, and MultiCall. It holds no distributed
// systems logic of its own — endpoint selection comes entirely from the
// Registry Facade's ring lookups, and delivery is entirely delegated to an
// injected Invoker. This package's only job is gluing "resolve a key" to
// "deliver a message" the same way on every call site.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dispatch-cluster/dispatch/dispatcherrors"
	"github.com/dispatch-cluster/dispatch/presence"
	"golang.org/x/sync/errgroup"
)

// Resolver is the subset of the Registry Facade that client needs: ring
// lookups. Declared here (rather than importing registry.Facade directly)
// so tests can substitute a stub without constructing a real tracker/ring
// pair.
type Resolver interface {
	FindService(typ presence.ServiceType, key []byte) (presence.Endpoint, error)
	FindMultiService(count int, typ presence.ServiceType, key []byte) ([]presence.Endpoint, error)
}

// Invoker is the one piece of distributed-systems-flavored logic this
// package deliberately does NOT implement: actually moving a message to a
// remote endpoint and, for Call, waiting on a reply. §4.4 asks for this to
// be an interface only, so callers can plug in whatever they already use
// for addressable-actor delivery. invoke.TCPInvoker is the one concrete
// implementation this module ships, built on the wire protocol in
// protocol/codec/message/invoke.
type Invoker interface {
	Cast(ctx context.Context, typ presence.ServiceType, ep presence.Endpoint, payload []byte) error
	Call(ctx context.Context, typ presence.ServiceType, ep presence.Endpoint, payload []byte) ([]byte, error)
}

// Sugar is the Cast/Call/MultiCast/MultiCall façade over a Resolver and an
// Invoker.
type Sugar struct {
	resolver       Resolver
	invoker        Invoker
	defaultTimeout time.Duration
}

// New constructs a Sugar. defaultTimeout bounds each background delivery
// started by Cast and MultiCast — Call and MultiCall always take an
// explicit timeout argument.
func New(resolver Resolver, invoker Invoker, defaultTimeout time.Duration) *Sugar {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Sugar{resolver: resolver, invoker: invoker, defaultTimeout: defaultTimeout}
}

// Cast resolves key to one online endpoint of typ and delivers msg
// fire-and-forget: it returns as soon as the endpoint is resolved, without
// waiting for delivery to complete.
func (s *Sugar) Cast(typ presence.ServiceType, key []byte, msg any) error {
	ep, err := s.resolver.FindService(typ, key)
	if err != nil {
		return dispatcherrors.ErrServiceUnavailable
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.defaultTimeout)
	go func() {
		defer cancel()
		s.invoker.Cast(ctx, typ, ep, payload)
	}()
	return nil
}

// Call resolves key to one online endpoint of typ, delivers msg, and
// blocks for a reply, unmarshaling it into reply. A nil reply discards the
// response body.
func (s *Sugar) Call(ctx context.Context, typ presence.ServiceType, key []byte, msg any, reply any, timeout time.Duration) error {
	ep, err := s.resolver.FindService(typ, key)
	if err != nil {
		return dispatcherrors.ErrServiceUnavailable
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	respBytes, err := s.invoker.Call(cctx, typ, ep, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dispatcherrors.ErrTimeout
		}
		return err
	}
	if reply == nil || len(respBytes) == 0 {
		return nil
	}
	return json.Unmarshal(respBytes, reply)
}

// MultiCast resolves key to up to count distinct online endpoints of typ
// and fans msg out to all of them fire-and-forget.
func (s *Sugar) MultiCast(count int, typ presence.ServiceType, key []byte, msg any) error {
	eps, err := s.resolver.FindMultiService(count, typ, key)
	if err != nil {
		return dispatcherrors.ErrServiceUnavailable
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		ep := ep
		ctx, cancel := context.WithTimeout(context.Background(), s.defaultTimeout)
		go func() {
			defer cancel()
			s.invoker.Cast(ctx, typ, ep, payload)
		}()
	}
	return nil
}

// MultiCallResult is one endpoint's outcome from MultiCall. Order within
// the returned slice is arbitrary — callers that care which endpoint
// answered should inspect Endpoint, not position.
type MultiCallResult struct {
	Endpoint presence.Endpoint
	Payload  []byte
	Err      error
}

// MultiCall resolves key to up to count distinct online endpoints of typ,
// calls all of them in parallel under one shared deadline, and returns
// every result once the slowest call finishes or the deadline passes —
// whichever comes first. A single slow or dead endpoint never blocks the
// others: its slot just records an error.
func (s *Sugar) MultiCall(ctx context.Context, count int, typ presence.ServiceType, key []byte, msg any, timeout time.Duration) ([]MultiCallResult, error) {
	eps, err := s.resolver.FindMultiService(count, typ, key)
	if err != nil {
		return nil, dispatcherrors.ErrServiceUnavailable
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	results := make([]MultiCallResult, len(eps))
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			respBytes, err := s.invoker.Call(gctx, typ, ep, payload)
			if errors.Is(err, context.DeadlineExceeded) {
				err = dispatcherrors.ErrTimeout
			}
			// Each goroutine always reports nil to the group: a single
			// endpoint's failure must not cancel gctx and abort the rest.
			results[i] = MultiCallResult{Endpoint: ep, Payload: respBytes, Err: err}
			return nil
		})
	}
	g.Wait()
	return results, nil
}
