package middleware

import (
	"context"

	"go.uber.org/zap"

	"maid/message"
)

// RecoverMiddleware turns a panic in user logic into a failed response so a
// faulty handler cannot take the process down.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (resp any, err error) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panicked",
						zap.String("service", ctl.Meta.ServiceName),
						zap.String("method", ctl.Meta.MethodName),
						zap.Any("panic", p),
						zap.Stack("stack"))
					resp, err = nil, message.PanicError(p)
				}
			}()
			return next(ctx, ctl, payload)
		}
	}
}
