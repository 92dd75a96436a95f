// Package channel is the entry point of maid: one object that both calls
// remote methods and serves local ones over the same connections.
//
//	caller ─→ Call ─→ Table.Register ─→ Session.Enqueue ─→ wire
//	wire ─→ recv loop ─┬─ request  ─→ Dispatcher ─→ Session.Enqueue ─→ wire
//	                   └─ response ─→ Completer ─→ envelope resolves ─→ caller
//
// Every connection is symmetric. A channel that connected out can still serve
// requests arriving on that connection, and a listening channel can call back
// over an accepted session.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"maid/client"
	"maid/message"
	"maid/middleware"
	"maid/registry"
	"maid/server"
	"maid/transport"
)

// ErrClosed is returned by Listen and Connect after Close.
var ErrClosed = errors.New("channel: closed")

// Channel composes the connection manager, the correlation table and the
// request dispatcher.
type Channel struct {
	opts   options
	logger *zap.Logger

	table      *client.Table
	completer  *client.Completer
	dispatcher *server.Dispatcher
	manager    *transport.Manager

	mu         sync.RWMutex
	def        *transport.Session
	advertised []advert
	closed     atomic.Bool
}

type advert struct {
	reg     registry.Registry
	service string
	addr    string
}

// New returns a channel with no connections and no services.
func New(opts ...Option) *Channel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	table := client.NewTable(o.maxIDScan)
	c := &Channel{
		opts:       o,
		logger:     o.logger,
		table:      table,
		completer:  client.NewCompleter(table, o.codec, o.logger),
		dispatcher: server.NewDispatcher(o.codec, o.logger, o.maxConcurrent),
	}
	c.manager = transport.NewManager(sessionHandler{c}, transport.Config{
		Codec:        o.codec,
		Logger:       o.logger,
		Metrics:      o.metrics,
		MaxFrameSize: o.maxFrameSize,
		DialTimeout:  o.dialTimeout,
	})
	c.dispatcher.Use(middleware.RecoverMiddleware(o.logger))
	if o.metrics != nil {
		c.dispatcher.Use(middleware.MetricsMiddleware(o.metrics))
	}
	return c
}

// RegisterService makes svc callable by peers.
func (c *Channel) RegisterService(svc server.Service) error {
	return c.dispatcher.Register(svc)
}

// Register exposes the suitable exported methods of rcvr; see
// server.NewService.
func (c *Channel) Register(rcvr any) error {
	svc, err := server.NewService(rcvr)
	if err != nil {
		return err
	}
	return c.dispatcher.Register(svc)
}

// Services returns the names of the registered services.
func (c *Channel) Services() []string {
	return c.dispatcher.Services()
}

// Use adds a middleware around every served request.
func (c *Channel) Use(mw middleware.Middleware) {
	c.dispatcher.Use(mw)
}

// SetDefaultSession selects the session used by calls whose envelope names
// none. nil clears it.
func (c *Channel) SetDefaultSession(s *transport.Session) {
	c.mu.Lock()
	c.def = s
	c.mu.Unlock()
}

// DefaultSession returns the current default session, or nil.
func (c *Channel) DefaultSession() *transport.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Listen accepts connections on host:port. Port 0 picks a free port.
func (c *Channel) Listen(ctx context.Context, host string, port, backlog int) (*transport.Listener, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.manager.Listen(ctx, host, port, backlog)
}

// Connect dials host:port. The first connected session becomes the default
// session if none is set.
func (c *Channel) Connect(ctx context.Context, host string, port int) (*transport.Session, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s, err := c.manager.Connect(ctx, host, port)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.def == nil {
		c.def = s
	}
	c.mu.Unlock()
	return s, nil
}

// Sessions returns the live sessions, accepted and connected alike.
func (c *Channel) Sessions() []*transport.Session {
	return c.manager.Sessions()
}

// Pending returns the number of outstanding outbound calls.
func (c *Channel) Pending() int {
	return c.table.Len()
}

// Call starts service.method on the envelope's session, or on the default
// session when ctl.Session is nil, and returns ctl without waiting. reply is
// the container the response is decoded into; nil discards the body.
//
// The returned envelope always resolves: with the response, with the peer's
// failure, locally with "did not connect" when there is no live session, or
// with "timeout"/"canceled" when ctx or the call timeout ends first. A nil
// ctl allocates a new envelope.
func (c *Channel) Call(ctx context.Context, service, method string, ctl *message.Controller, req, reply any) *message.Controller {
	if ctl == nil {
		ctl = message.NewController()
	}
	ctl.Meta = message.Meta{Stub: true, ServiceName: service, MethodName: method}
	ctl.Request = req
	ctl.Response = reply

	start := time.Now()
	ctl.OnResolve(func() {
		c.opts.metrics.ObserveCall(service, method, message.ReasonOf(ctl.Err()), time.Since(start))
	})

	if ctl.Session == nil {
		if def := c.DefaultSession(); def != nil {
			ctl.Session = def
		}
	}

	// Registered before the frame can possibly leave, so even an instant
	// response finds its entry.
	id, err := c.table.Register(ctl)
	if err != nil {
		c.logger.Warn("call rejected", zap.String("service", service), zap.String("method", method), zap.Error(err))
		ctl.Fail(message.ReasonTableSaturated)
		return ctl
	}

	if !usable(ctl.Session) {
		c.table.RemoveIf(id, ctl)
		ctl.Fail(message.ReasonNotConnected)
		return ctl
	}

	c.arm(ctx, id, ctl)

	if err := ctl.Session.Enqueue(ctl); err != nil {
		if c.table.RemoveIf(id, ctl) {
			ctl.Fail(message.ReasonNotConnected)
		}
	}
	return ctl
}

// Invoke calls "Service.Method" and waits for the result.
func (c *Channel) Invoke(ctx context.Context, serviceMethod string, req, reply any) error {
	dot := strings.LastIndex(serviceMethod, ".")
	if dot <= 0 || dot == len(serviceMethod)-1 {
		return fmt.Errorf("channel: service/method request ill-formed: %s", serviceMethod)
	}
	ctl := c.Call(ctx, serviceMethod[:dot], serviceMethod[dot+1:], nil, req, reply)
	<-ctl.Done()
	return ctl.Err()
}

// arm makes ctx's end, or the call timeout, fail the call. Both are
// disarmed when the call resolves any other way.
func (c *Channel) arm(ctx context.Context, id uint64, ctl *message.Controller) {
	cancel := context.CancelFunc(func() {})
	if d := c.opts.callTimeout; d > 0 {
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > d {
			ctx, cancel = context.WithTimeout(ctx, d)
		}
	}
	if ctx.Done() == nil {
		cancel()
		return
	}

	stop := context.AfterFunc(ctx, func() {
		if !c.table.RemoveIf(id, ctl) {
			return
		}
		reason := message.ReasonTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			reason = message.ReasonCanceled
		}
		ctl.Fail(reason)
	})
	ctl.OnResolve(func() {
		stop()
		cancel()
	})
}

func usable(ep message.Endpoint) bool {
	if ep == nil {
		return false
	}
	if s, ok := ep.(*transport.Session); ok && s == nil {
		return false
	}
	if s, ok := ep.(interface{ Alive() bool }); ok {
		return s.Alive()
	}
	return true
}

// Advertise registers every service of the channel under addr in reg. The
// entries are removed by Withdraw or Close.
func (c *Channel) Advertise(ctx context.Context, reg registry.Registry, addr string, ttl int64) error {
	for _, name := range c.dispatcher.Services() {
		inst := registry.ServiceInstance{Addr: addr, Codec: c.opts.codec.Type().String()}
		if err := reg.Register(ctx, name, inst, ttl); err != nil {
			return fmt.Errorf("channel: advertise %s: %w", name, err)
		}
		c.mu.Lock()
		c.advertised = append(c.advertised, advert{reg: reg, service: name, addr: addr})
		c.mu.Unlock()
		c.logger.Info("service advertised", zap.String("service", name), zap.String("addr", addr))
	}
	return nil
}

// Withdraw removes every advertisement made by Advertise.
func (c *Channel) Withdraw(ctx context.Context) error {
	c.mu.Lock()
	ads := c.advertised
	c.advertised = nil
	c.mu.Unlock()

	var errs []error
	for _, ad := range ads {
		if err := ad.reg.Deregister(ctx, ad.service, ad.addr); err != nil {
			errs = append(errs, fmt.Errorf("channel: withdraw %s: %w", ad.service, err))
		}
	}
	return errors.Join(errs...)
}

// Close withdraws advertisements, closes every listener and session, fails
// the calls still outstanding with "connection closed" and waits up to
// timeout for running handlers.
func (c *Channel) Close(timeout time.Duration) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := c.Withdraw(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if n := c.table.FailAll(message.ReasonConnClosed); n > 0 {
		c.logger.Debug("failed outstanding calls on close", zap.Int("calls", n))
	}
	if err := c.dispatcher.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sessionHandler receives session events on behalf of the channel.
type sessionHandler struct{ c *Channel }

func (h sessionHandler) HandleRequest(ctx context.Context, ctl *message.Controller, payload []byte) {
	h.c.dispatcher.Dispatch(ctx, ctl, payload)
}

func (h sessionHandler) HandleResponse(meta *message.Meta, payload []byte) {
	h.c.completer.Complete(meta, payload)
}

func (h sessionHandler) Abort(ctl *message.Controller, reason string) {
	if h.c.table.RemoveIf(ctl.Meta.TransmitID, ctl) {
		ctl.Fail(reason)
	}
}

func (h sessionHandler) SessionClosed(s *transport.Session, err error) {
	n := h.c.table.FailSession(s, message.ReasonConnClosed)
	h.c.mu.Lock()
	if h.c.def == s {
		h.c.def = nil
	}
	h.c.mu.Unlock()
	h.c.logger.Debug("session closed",
		zap.String("session", s.ID()),
		zap.String("reason", transport.CloseReason(err)),
		zap.Int("failed_calls", n))
}
