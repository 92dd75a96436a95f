// Package server implements the serving side of a channel: the service
// registry and the request dispatcher.
//
// Request processing pipeline:
//
//	session recv loop → Dispatch (acquire handler slot)
//	  → go handle (one goroutine per request)
//	    → Middleware Chain → invoke (service lookup → method lookup → decode → call)
//	      → flip envelope to response → enqueue on the same session
package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"maid/codec"
	"maid/message"
	"maid/middleware"
)

// DefaultMaxConcurrent bounds the number of handlers running at once.
const DefaultMaxConcurrent = 1024

// Dispatcher routes request envelopes to registered services and queues the
// responses back on the session they arrived on.
type Dispatcher struct {
	mu          sync.RWMutex
	services    map[string]Service     // Registered services: "Echo" → Service
	middlewares []middleware.Middleware // Applied in registration order
	handler     middleware.HandlerFunc  // middleware(middleware(...(invoke)))

	codec  codec.Codec
	logger *zap.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup // Tracks in-flight handlers for graceful shutdown
}

// NewDispatcher creates a dispatcher with an empty service registry.
// maxConcurrent <= 0 selects DefaultMaxConcurrent.
func NewDispatcher(c codec.Codec, logger *zap.Logger, maxConcurrent int64) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	d := &Dispatcher{
		services: make(map[string]Service),
		codec:    c,
		logger:   logger,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
	d.handler = d.invoke
	return d
}

// Register adds svc to the registry. Registering a second service under the
// same name is an error.
func (d *Dispatcher) Register(svc Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := svc.Name()
	if _, dup := d.services[name]; dup {
		return fmt.Errorf("rpc: service already defined: %s", name)
	}
	d.services[name] = svc
	return nil
}

// Services returns the registered service names in lexicographic order.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use appends a middleware. The chain is rebuilt once here, not per request.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
	d.handler = middleware.Chain(d.middlewares...)(d.invoke)
}

// Dispatch handles one request envelope. It waits for a handler slot, which
// applies back-pressure to the calling session only, then runs the handler
// on its own goroutine so slow user logic never blocks the receive loop.
// ctx is the session's context; it is cancelled when the session ends.
func (d *Dispatcher) Dispatch(ctx context.Context, ctl *message.Controller, payload []byte) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.logger.Debug("dropping request, session ending",
			zap.String("service", ctl.Meta.ServiceName),
			zap.String("method", ctl.Meta.MethodName),
			zap.Uint64("transmit_id", ctl.Meta.TransmitID))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.handle(ctx, ctl, payload)
	}()
}

func (d *Dispatcher) handle(ctx context.Context, ctl *message.Controller, payload []byte) {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()

	resp, err := h(ctx, ctl, payload)

	// The request envelope becomes the response; TransmitID is preserved.
	ctl.Meta.Stub = false
	ctl.Request = nil
	if err != nil {
		ctl.SetFailed(message.ReasonOf(err))
		ctl.Response = nil
	} else {
		ctl.Response = resp
	}

	if ctl.Session == nil {
		d.logger.Warn("request has no session to answer on", zap.Uint64("transmit_id", ctl.Meta.TransmitID))
		return
	}
	if err := ctl.Session.Enqueue(ctl); err != nil {
		d.logger.Debug("dropping response, session closed",
			zap.String("session", ctl.Session.ID()),
			zap.Uint64("transmit_id", ctl.Meta.TransmitID),
			zap.Error(err))
	}
}

// invoke is the business handler at the core of the middleware chain.
func (d *Dispatcher) invoke(ctx context.Context, ctl *message.Controller, payload []byte) (any, error) {
	d.mu.RLock()
	svc, ok := d.services[ctl.Meta.ServiceName]
	d.mu.RUnlock()
	if !ok {
		return nil, message.ErrServiceNotExist
	}

	method, ok := svc.Method(ctl.Meta.MethodName)
	if !ok {
		return nil, message.ErrMethodNotExist
	}

	// User logic never runs on a request that failed to decode.
	req := method.NewRequest()
	if err := d.codec.Decode(payload, req); err != nil {
		d.logger.Debug("request decode failed",
			zap.String("service", ctl.Meta.ServiceName),
			zap.String("method", ctl.Meta.MethodName),
			zap.Error(err))
		return nil, message.ErrRequestDecode
	}

	resp := method.NewResponse()
	if err := d.call(ctx, ctl, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// call runs user logic. A panic is recovered here, on whatever goroutine the
// middleware chain runs invoke on, and becomes a failed response.
func (d *Dispatcher) call(ctx context.Context, ctl *message.Controller, method Method, req, resp any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("handler panicked",
				zap.String("service", ctl.Meta.ServiceName),
				zap.String("method", ctl.Meta.MethodName),
				zap.Any("panic", p),
				zap.Stack("stack"))
			err = message.PanicError(p)
		}
	}()
	return method.Call(ctx, ctl, req, resp)
}

// Shutdown waits for in-flight handlers to finish, up to timeout.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
