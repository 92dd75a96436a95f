package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"maid/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
			start := time.Now()
			resp, err := next(ctx, ctl, payload)
			fields := []zap.Field{
				zap.String("service", ctl.Meta.ServiceName),
				zap.String("method", ctl.Meta.MethodName),
				zap.Uint64("transmit_id", ctl.Meta.TransmitID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Info("call failed", append(fields, zap.String("reason", message.ReasonOf(err)))...)
			} else {
				logger.Debug("call handled", fields...)
			}
			return resp, err
		}
	}
}
