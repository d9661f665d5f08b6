package invoke

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/dispatch-cluster/dispatch/codec"
	"github.com/dispatch-cluster/dispatch/presence"
)

// TCPInvoker is the default client.Invoker: it dials presence.Endpoint's
// LocalHandle as a TCP address ("host:port"), pooling connections per
// address. This is the one concrete assumption this module makes about
// what a LocalHandle means on the wire — an application free to hand
// AddService an opaque in-process handle instead must supply its own
// Invoker.
type TCPInvoker struct {
	mu       sync.Mutex
	pools    map[string]*ConnPool
	codec    codec.CodecType
	poolSize int
}

// NewTCPInvoker constructs a TCPInvoker. poolSize bounds the number of
// concurrent connections held open to any one address.
func NewTCPInvoker(codecType codec.CodecType, poolSize int) *TCPInvoker {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &TCPInvoker{
		pools:    make(map[string]*ConnPool),
		codec:    codecType,
		poolSize: poolSize,
	}
}

func (inv *TCPInvoker) poolFor(addr string) *ConnPool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if p, ok := inv.pools[addr]; ok {
		return p
	}
	p := NewConnPool(addr, inv.poolSize, func() (*Conn, error) {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewConn(conn, inv.codec), nil
	})
	inv.pools[addr] = p
	return p
}

// Cast implements client.Invoker. typ travels on the wire as the frame's
// target label, so one invoke.Server listening on an endpoint's address
// can still tell which registered service the frame is meant for.
func (inv *TCPInvoker) Cast(ctx context.Context, typ presence.ServiceType, ep presence.Endpoint, payload []byte) error {
	pool := inv.poolFor(string(ep.LocalHandle))
	pc, err := pool.Get()
	if err != nil {
		return err
	}
	err = pc.Conn.Cast(string(typ), payload)
	pc.unusable = err != nil
	pool.Put(pc)
	return err
}

// Call implements client.Invoker.
func (inv *TCPInvoker) Call(ctx context.Context, typ presence.ServiceType, ep presence.Endpoint, payload []byte) ([]byte, error) {
	pool := inv.poolFor(string(ep.LocalHandle))
	pc, err := pool.Get()
	if err != nil {
		return nil, err
	}

	_, respCh, err := pc.Conn.Call(string(typ), payload)
	if err != nil {
		pc.unusable = true
		pool.Put(pc)
		return nil, err
	}

	select {
	case env := <-respCh:
		pool.Put(pc)
		if env.Error != "" {
			return nil, errors.New(env.Error)
		}
		return env.Payload, nil
	case <-ctx.Done():
		pc.unusable = true
		pool.Put(pc)
		return nil, ctx.Err()
	}
}

// Close shuts down every pooled connection to every address this invoker
// has ever dialed.
func (inv *TCPInvoker) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var firstErr error
	for _, p := range inv.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
