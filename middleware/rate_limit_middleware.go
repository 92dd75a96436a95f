package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"maid/message"
)

// ReasonRateLimited is the failure reason of a rejected request.
const ReasonRateLimited = message.ReasonRateLimited

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
			if !limiter.Allow() {
				return nil, &message.CallError{Reason: ReasonRateLimited}
			}
			return next(ctx, ctl, payload)
		}
	}
}
