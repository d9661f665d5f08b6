package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/dispatch-cluster/dispatch/message"
	"go.uber.org/zap"
)

// RetryMiddleware retries transient failures with exponential backoff.
// It lives on the server side of the handler chain so a flaky downstream
// dependency (e.g. a disk write inside the handler) gets retried before the
// caller ever sees an error.
func RetryMiddleware(log *zap.Logger, maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Error == "" {
					return resp
				}
				if strings.Contains(resp.Error, "timeout") || strings.Contains(resp.Error, "connection refused") {
					log.Debug("retrying", zap.String("target", req.Target), zap.Int("attempt", i+1), zap.String("error", resp.Error))
					time.Sleep(baseDelay * time.Duration(1<<i))
					resp = next(ctx, req)
				} else {
					return resp
				}
			}
			return resp
		}
	}
}
