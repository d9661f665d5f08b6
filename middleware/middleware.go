package middleware

import (
	"context"

	"github.com/dispatch-cluster/dispatch/message"
)

type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into a single middleware: Chain(A, B, C)(h)
// builds A(B(C(h))), so A runs first on the way in and last on the way out.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
