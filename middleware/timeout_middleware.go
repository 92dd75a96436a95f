package middleware

import (
	"context"
	"time"

	"maid/message"
)

// ReasonHandlerTimeout is the failure reason of a handler that overran.
const ReasonHandlerTimeout = message.ReasonHandlerTimeout

type result struct {
	resp any
	err  error
}

// TimeOutMiddleware fails a request whose handler has not returned within
// timeout. The handler runs on its own goroutine, so a panic in it is
// recovered there; an outer RecoverMiddleware cannot see it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						done <- result{nil, message.PanicError(p)}
					}
				}()
				resp, err := next(ctx, ctl, payload)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, &message.CallError{Reason: ReasonHandlerTimeout}
			}
		}
	}
}
