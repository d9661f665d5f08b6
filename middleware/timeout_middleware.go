package middleware

import (
	"context"
	"time"

	"github.com/dispatch-cluster/dispatch/message"
)

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case env := <-done:
				return env
			case <-ctx.Done():
				return &message.Envelope{
					Target: req.Target,
					Error:  "request timed out",
				}
			}
		}
	}
}
