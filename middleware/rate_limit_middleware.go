package middleware

import (
	"context"

	"github.com/dispatch-cluster/dispatch/message"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware caps the rate of frames an invoke.Server will accept
// from all callers combined, independent of the tracker's own op-submission
// limiter (which caps mutation rate on a single node's presence state).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return &message.Envelope{
					Target: req.Target,
					Error:  "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
