package message

import (
	"context"
	"sync"
)

// Controller is the call envelope: one per in-flight call on either side.
//
// The completion is single-assignment. Resolve and Fail race freely; exactly
// one of them wins and every later attempt is ignored.
type Controller struct {
	Meta     Meta
	Session  Endpoint // Connection this call travels over, nil means "use the default"
	Request  any      // Outbound request message (caller side)
	Response any      // Reply container (caller side) or handler result (callee side)

	once     sync.Once
	done     chan struct{}
	mu       sync.Mutex // guards err, hooks and resolved
	err      error
	hooks    []func()
	resolved bool
}

// NewController returns an envelope with an unresolved completion. The zero
// Controller is ready to use as well.
func NewController() *Controller {
	return &Controller{done: make(chan struct{})}
}

func (c *Controller) doneChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// FromMeta builds the envelope for a frame received on ep.
func FromMeta(meta *Meta, ep Endpoint) *Controller {
	ctl := NewController()
	ctl.Meta = *meta
	ctl.Session = ep
	return ctl
}

// SetFailed marks the envelope header as failed. It is used on the callee side
// before a response is queued and does not touch the completion.
func (c *Controller) SetFailed(reason string) {
	c.Meta.Failed = true
	c.Meta.ErrorText = reason
}

// Failed reports whether the header or the completion carries a failure.
func (c *Controller) Failed() bool {
	if c.Meta.Failed {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// ErrorText returns the failure reason, or "" for a successful call.
func (c *Controller) ErrorText() string {
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if ce, ok := err.(*CallError); ok {
		return ce.Reason
	}
	return c.Meta.ErrorText
}

// Resolve completes the call successfully. A non-nil resp replaces Response.
// It returns false if the call was already resolved.
func (c *Controller) Resolve(resp any) bool {
	return c.complete(func() {
		if resp != nil {
			c.Response = resp
		}
	})
}

// Fail completes the call with reason. It returns false if the call was
// already resolved.
func (c *Controller) Fail(reason string) bool {
	return c.complete(func() {
		c.mu.Lock()
		c.err = &CallError{Reason: reason}
		c.mu.Unlock()
	})
}

func (c *Controller) complete(set func()) bool {
	won := false
	c.once.Do(func() {
		won = true
		set()
		c.mu.Lock()
		hooks := c.hooks
		c.hooks = nil
		c.resolved = true
		c.mu.Unlock()
		for _, h := range hooks {
			h()
		}
		close(c.doneChan())
	})
	return won
}

// OnResolve registers f to run once the call resolves. If the call is already
// resolved f runs immediately.
func (c *Controller) OnResolve(f func()) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		f()
		return
	}
	c.hooks = append(c.hooks, f)
	c.mu.Unlock()
}

// Done is closed when the call resolves.
func (c *Controller) Done() <-chan struct{} {
	return c.doneChan()
}

// Resolved reports whether the completion has been assigned.
func (c *Controller) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Err returns the failure of a resolved call, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the call resolves or ctx is done. Giving up on ctx does
// not resolve the call.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
