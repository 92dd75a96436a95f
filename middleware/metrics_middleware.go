package middleware

import (
	"context"
	"errors"
	"time"

	"maid/message"
	"maid/metrics"
)

// unknownLabel replaces names the dispatcher could not resolve, so a peer
// cannot mint new series by calling made-up services.
const unknownLabel = "unknown"

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
			start := time.Now()
			resp, err := next(ctx, ctl, payload)

			service, method := ctl.Meta.ServiceName, ctl.Meta.MethodName
			switch {
			case errors.Is(err, message.ErrServiceNotExist):
				service, method = unknownLabel, unknownLabel
			case errors.Is(err, message.ErrMethodNotExist):
				method = unknownLabel
			}
			m.ObserveDispatch(service, method, message.ReasonOf(err), time.Since(start))
			return resp, err
		}
	}
}
