// Package middleware wraps the dispatcher's request handler.
//
// Chain(A, B, C)(handler) builds A(B(C(handler))); execution order is
// A.before → B.before → C.before → handler → C.after → B.after → A.after.
package middleware

import (
	"context"

	"maid/message"
)

// HandlerFunc handles one inbound request envelope. It returns the response
// message, or an error that becomes the failure reason sent to the caller.
type HandlerFunc func(ctx context.Context, ctl *message.Controller, payload []byte) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
