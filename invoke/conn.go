// Package invoke implements the TCP wire mechanics backing client.Invoker:
// a multiplexed connection (Conn), a small per-address connection pool, a
// default Invoker over that pool (TCPInvoker), and the server side that
// decodes frames and runs them through the middleware chain (Server).
//
// None of this is mandated by the core presence/ring protocol — §4.4 only
// asks for an Invoker interface. It exists because a library that ships
// "bring your own transport" with no working transport at all is not
// something a caller can actually run.
package invoke

import (
	"sync"
	"time"

	"net"

	"github.com/dispatch-cluster/dispatch/codec"
	"github.com/dispatch-cluster/dispatch/message"
	"github.com/dispatch-cluster/dispatch/protocol"
)

// Conn manages a single multiplexed TCP connection to one invoke.Server.
// Multiple goroutines may call Call/Cast on the same Conn concurrently —
// each Call request gets its own sequence number, and a dedicated recvLoop
// goroutine routes replies back to the caller that is waiting on it.
//
//	goroutine-1 ──Call(seq=1)──┐
//	goroutine-2 ──Call(seq=2)──┼──→ single TCP conn ──→ invoke.Server
//	goroutine-3 ──Cast(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] chan ← reply ← goroutine-2 wakes up
type Conn struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32
	pending sync.Map   // map[uint32]chan *message.Envelope
	sending sync.Mutex // serializes writes so frames never interleave
}

// NewConn wraps conn and starts its background recvLoop and heartbeatLoop.
func NewConn(conn net.Conn, codecType codec.CodecType) *Conn {
	c := &Conn{conn: conn, codec: codecType}
	go c.recvLoop()
	go c.heartbeatLoop(30 * time.Second)
	return c
}

// Call sends a request frame and returns the sequence number and a channel
// that receives exactly one reply.
func (c *Conn) Call(target string, payload []byte) (uint32, <-chan *message.Envelope, error) {
	return c.send(target, payload, protocol.MsgTypeRequest)
}

// Cast sends a fire-and-forget frame. No reply is expected or waited for.
func (c *Conn) Cast(target string, payload []byte) error {
	_, _, err := c.send(target, payload, protocol.MsgTypeCast)
	return err
}

func (c *Conn) send(target string, payload []byte, msgType protocol.MsgType) (uint32, <-chan *message.Envelope, error) {
	c.sending.Lock()
	defer c.sending.Unlock()

	c.seq++
	seq := c.seq

	env := message.Envelope{Target: target, Payload: payload}
	cdc := codec.GetCodec(c.codec)
	body, err := cdc.Encode(&env)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(c.codec),
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	var respCh chan *message.Envelope
	if msgType == protocol.MsgTypeRequest {
		respCh = make(chan *message.Envelope, 1)
		c.pending.Store(seq, respCh)
	}

	if err := protocol.Encode(c.conn, &header, body); err != nil {
		if respCh != nil {
			c.pending.Delete(seq)
		}
		return 0, nil, err
	}
	return seq, respCh, nil
}

// recvLoop is the single reader of this connection. TCP is a byte stream —
// reads must stay sequential to parse frame boundaries correctly.
func (c *Conn) recvLoop() {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			c.closeAllPending(err)
			return
		}
		if header.MsgType != protocol.MsgTypeReply {
			// Heartbeats and (on this, the calling side) stray Cast frames
			// carry nothing a pending caller is waiting on.
			continue
		}

		env := message.Envelope{}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		cdc.Decode(body, &env)

		if ch, ok := c.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *message.Envelope) <- &env
		}
	}
}

// closeAllPending unblocks every in-flight Call when the connection breaks.
func (c *Conn) closeAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		value.(chan *message.Envelope) <- &message.Envelope{Error: err.Error()}
		return true
	})
	c.pending.Clear()
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		c.sending.Lock()
		err := protocol.Encode(c.conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			return
		}
	}
}
