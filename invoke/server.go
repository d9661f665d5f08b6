package invoke

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dispatch-cluster/dispatch/codec"
	"github.com/dispatch-cluster/dispatch/message"
	"github.com/dispatch-cluster/dispatch/middleware"
	"github.com/dispatch-cluster/dispatch/protocol"
	"go.uber.org/zap"
)

// Handler answers one call or cast, addressed by target (normally the
// endpoint's presence.ServiceType, set by the Invoker) carrying the
// caller's serialized payload. A Cast frame's return value is discarded;
// the caller never sees it.
type Handler func(ctx context.Context, target string, payload []byte) ([]byte, error)

// Server accepts TCP connections speaking the dispatch wire protocol and
// dispatches each frame to a Handler through a middleware chain.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each frame: go handleFrame (parallel processing)
//	    → codec.Decode → middleware chain → Handler → codec.Encode → write reply (calls only)
type Server struct {
	ln          net.Listener
	wg          sync.WaitGroup
	shutdown    atomic.Bool
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc
	handler     Handler
	codec       codec.CodecType
	log         *zap.Logger
}

// NewServer constructs a Server around handler. Each incoming frame is
// decoded, and its reply encoded, with the codec named in that frame's
// header; codecType is stored on the Server but does not override it.
func NewServer(handler Handler, codecType codec.CodecType, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{handler: handler, codec: codecType, log: log}
}

// Use registers a middleware, applied in the order added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and runs the accept loop until Shutdown closes
// the listener.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.chain = middleware.Chain(s.middlewares...)(s.dispatch)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener's bound address. Only valid after Serve has
// started listening.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{} // shared by every handleFrame goroutine on this conn
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		go s.handleFrame(header, body, conn, writeMu)
	}
}

func (s *Server) handleFrame(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	s.wg.Add(1)
	defer s.wg.Done()

	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	req := message.Envelope{}
	if err := cdc.Decode(body, &req); err != nil {
		s.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	if header.MsgType == protocol.MsgTypeCast {
		s.chain(context.Background(), &req)
		return
	}

	resp := s.chain(context.Background(), &req)

	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := cdc.Encode(resp)
	if err != nil {
		s.log.Warn("failed to encode reply", zap.Error(err))
		return
	}
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeReply,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		s.log.Warn("failed to write reply", zap.Error(err))
	}
}

// dispatch is the innermost handler, wrapped by the middleware chain.
func (s *Server) dispatch(ctx context.Context, req *message.Envelope) *message.Envelope {
	reply, err := s.handler(ctx, req.Target, req.Payload)
	resp := &message.Envelope{Target: req.Target, Payload: reply}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight frames to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	s.ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("invoke: timeout waiting for in-flight frames to finish")
	}
}
