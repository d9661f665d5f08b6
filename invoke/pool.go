package invoke

import (
	"fmt"
	"sync"
)

// ConnPool manages a bounded set of reusable Conns to a single address.
// Unlike transport.Local's in-process hub, this is real multiplexed TCP, so
// a handful of pooled Conns comfortably serve many concurrent Call/Cast
// invocations — the pool exists to cap total outbound connections per
// address, not to serialize calls.
//
// Uses a buffered channel as a FIFO queue: buffered channels are already
// concurrency-safe and block-on-empty comes for free.
type ConnPool struct {
	mu       sync.Mutex
	conns    chan *PoolConn
	addr     string
	maxConns int
	curConns int
	factory  func() (*Conn, error)
}

// PoolConn wraps a pooled Conn with pool bookkeeping.
type PoolConn struct {
	*Conn
	pool     *ConnPool
	unusable bool // set true when a caller hits an error using this conn
}

// NewConnPool creates a connection pool with the given max size. Conns are
// created lazily: the pool starts empty and grows on demand up to maxConns.
func NewConnPool(addr string, maxConns int, factory func() (*Conn, error)) *ConnPool {
	return &ConnPool{
		conns:    make(chan *PoolConn, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get retrieves a connection from the pool, creating one if under capacity,
// or blocking until one is returned if at capacity.
func (p *ConnPool) Get() (*PoolConn, error) {
	select {
	case conn := <-p.conns:
		if conn.unusable {
			return p.createNew()
		}
		return conn, nil
	default:
		p.mu.Lock()
		if p.curConns < p.maxConns {
			// Reserve the slot under the lock so concurrent callers cannot
			// all pass the capacity check.
			p.curConns++
			p.mu.Unlock()
			c, err := p.factory()
			if err != nil {
				p.mu.Lock()
				p.curConns--
				p.mu.Unlock()
				return nil, err
			}
			return &PoolConn{Conn: c, pool: p}, nil
		}
		p.mu.Unlock()
		conn := <-p.conns
		return conn, nil
	}
}

// Put returns a connection to the pool, or closes it if it was marked
// unusable by the caller.
func (p *ConnPool) Put(conn *PoolConn) {
	if conn.unusable {
		conn.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- conn
}

// Close shuts down the pool and closes every pooled connection.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.curConns--
	}
	return nil
}

func (p *ConnPool) createNew() (*PoolConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("invoke: connection pool for %s exhausted", p.addr)
	}

	c, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PoolConn{Conn: c, pool: p}, nil
}
