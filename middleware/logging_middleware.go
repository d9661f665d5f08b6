package middleware

import (
	"context"
	"time"

	"github.com/dispatch-cluster/dispatch/message"
	"go.uber.org/zap"
)

// LoggingMiddleware logs one line per frame handled, at the invoke.Server
// boundary — the same zap.Logger passed everywhere else in the node.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("target", req.Target),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				log.Warn("call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				log.Debug("call handled", fields...)
			}
			return resp
		}
	}
}
