// Package transport owns the sockets of a channel.
//
// A Session wraps one connection and runs two loops over it: a receive loop
// that decodes frames and hands them to the channel, and a send loop that
// drains the session's outbound queue. Because only the send loop
// ever writes, frames never interleave and need no write lock.
//
//	Enqueue ──→ Queue ──→ sendLoop ──→ conn ──→ peer
//	peer ──→ conn ──→ recvLoop ──→ Handler.HandleRequest / HandleResponse
//
// When either loop ends the other is cancelled, the connection is closed and
// the Handler is told, so it can fail every call that depended on the session.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maid/codec"
	"maid/message"
	"maid/protocol"
)

// Handler receives what a session reads and learns when it ends.
type Handler interface {
	// HandleRequest is called from the receive loop for every request frame.
	// ctx is cancelled when the session ends.
	HandleRequest(ctx context.Context, ctl *message.Controller, payload []byte)
	// HandleResponse is called from the receive loop for every response frame.
	HandleResponse(meta *message.Meta, payload []byte)
	// Abort fails a queued request that will never reach the wire.
	Abort(ctl *message.Controller, reason string)
	// SessionClosed is called once, after both loops have ended.
	SessionClosed(s *Session, err error)
}

// SessionConfig carries the per-session knobs.
type SessionConfig struct {
	Codec        codec.Codec
	Logger       *zap.Logger
	MaxFrameSize uint32 // 0 disables the inbound size check
}

// Session is one live connection.
type Session struct {
	id      string
	conn    net.Conn
	queue   *Queue
	handler Handler
	codec   codec.Codec
	logger  *zap.Logger
	maxSize uint32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error // set before done is closed
	ended  atomic.Bool

	onTeardown func(s *Session, err error) // set by the Manager
}

// NewSession wraps conn. The session does nothing until Start is called.
func NewSession(conn net.Conn, h Handler, cfg SessionConfig) *Session {
	if cfg.Codec == nil {
		cfg.Codec = codec.GetCodec(codec.CodecTypeProto)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		conn:    conn,
		queue:   NewQueue(),
		handler: h,
		codec:   cfg.Codec,
		maxSize: cfg.MaxFrameSize,
		logger: cfg.Logger.With(
			zap.String("session", id),
			zap.Stringer("remote", addrStringer{conn.RemoteAddr()})),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the receive and send loops.
func (s *Session) Start() {
	go s.run()
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the local address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Enqueue queues ctl for transmission. Frames leave in enqueue order.
func (s *Session) Enqueue(ctl *message.Controller) error {
	if s.ended.Load() {
		return ErrSessionClosed
	}
	return s.queue.Push(ctl)
}

// Alive reports whether the session still accepts envelopes.
func (s *Session) Alive() bool {
	return !s.ended.Load() && s.ctx.Err() == nil
}

// Close shuts the session down gracefully: no new envelopes are accepted,
// the ones already queued are written, then the connection is closed.
func (s *Session) Close() {
	s.queue.Close()
}

// Terminate tears the session down immediately. Queued requests fail with
// "connection closed".
func (s *Session) Terminate() {
	s.cancel()
}

// Done is closed after teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil for a clean close, otherwise the
// error of the loop that failed first. Only valid after Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

func (s *Session) run() {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		defer s.cancel()
		return s.recvLoop(ctx)
	})
	g.Go(func() error {
		defer s.cancel()
		return s.sendLoop(ctx)
	})
	g.Go(func() error {
		// Unblocks the receive loop, which only ever waits on the socket.
		<-ctx.Done()
		s.conn.Close()
		return nil
	})
	s.teardown(g.Wait())
}

func (s *Session) recvLoop(ctx context.Context) error {
	r := bufio.NewReader(s.conn)
	for {
		meta, payload, err := protocol.ReadFrame(r, s.maxSize)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}

		if meta.Stub {
			s.handler.HandleRequest(ctx, message.FromMeta(meta, s), payload)
		} else {
			s.handler.HandleResponse(meta, payload)
		}
	}
}

func (s *Session) sendLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		ctl, ok := s.queue.Pop(ctx)
		if !ok {
			return nil
		}
		frame, ok := s.frame(ctl)
		if !ok {
			continue
		}
		if _, err := s.conn.Write(frame); err != nil {
			if ctl.Meta.Stub {
				s.handler.Abort(ctl, message.ReasonConnClosed)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
	return nil
}

// frame serializes the envelope's current payload and frames it. It reports
// false when the envelope should not be written.
func (s *Session) frame(ctl *message.Controller) ([]byte, bool) {
	// The caller already gave up on this call; the reply would be discarded.
	if ctl.Meta.Stub && ctl.Resolved() {
		return nil, false
	}

	var msg any
	if !ctl.Meta.Failed {
		if ctl.Meta.Stub {
			msg = ctl.Request
		} else {
			msg = ctl.Response
		}
	}

	var payload []byte
	if msg != nil {
		p, err := s.codec.Encode(msg)
		switch {
		case err == nil:
			payload = p
		case ctl.Meta.Stub:
			s.logger.Debug("request encode failed",
				zap.String("service", ctl.Meta.ServiceName),
				zap.String("method", ctl.Meta.MethodName),
				zap.Error(err))
			s.handler.Abort(ctl, message.ReasonRequestEncode)
			return nil, false
		default:
			s.logger.Warn("response encode failed",
				zap.String("service", ctl.Meta.ServiceName),
				zap.String("method", ctl.Meta.MethodName),
				zap.Error(err))
			ctl.SetFailed(message.ReasonResponseEncode)
		}
	}
	return protocol.EncodeFrame(&ctl.Meta, payload), true
}

func (s *Session) teardown(err error) {
	s.ended.Store(true)
	for _, ctl := range s.queue.Drain() {
		if ctl.Meta.Stub {
			s.handler.Abort(ctl, message.ReasonConnClosed)
		}
	}
	s.err = err

	if err != nil {
		s.logger.Info("session ended", zap.String("reason", CloseReason(err)), zap.Error(err))
	} else {
		s.logger.Debug("session ended", zap.String("reason", CloseReason(nil)))
	}
	s.handler.SessionClosed(s, err)
	if s.onTeardown != nil {
		s.onTeardown(s, err)
	}
	close(s.done)
}

// CloseReason classifies a session error for logs and metrics.
func CloseReason(err error) string {
	switch {
	case err == nil:
		return "clean"
	case errors.Is(err, protocol.ErrTruncatedFrame):
		return "truncated"
	case errors.Is(err, protocol.ErrCorruptMetadata):
		return "corrupt"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "oversized"
	}
	return "error"
}

type addrStringer struct{ net.Addr }

func (a addrStringer) String() string {
	if a.Addr == nil {
		return ""
	}
	return a.Addr.String()
}
