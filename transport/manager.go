package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"maid/codec"
	"maid/metrics"
)

// ErrManagerClosed is returned by Listen and Connect after Close.
var ErrManagerClosed = errors.New("transport: manager closed")

// ConnectionError reports a failed dial or accept. It is fatal to that
// attempt only.
type ConnectionError struct {
	Op   string // "listen", "dial" or "accept"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Config configures a Manager and the sessions it creates.
type Config struct {
	Codec        codec.Codec
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	MaxFrameSize uint32
	DialTimeout  time.Duration // 0 means no timeout beyond ctx
}

// Manager accepts and establishes connections and keeps the set of live
// sessions.
type Manager struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	mu        sync.Mutex
	sessions  map[*Session]struct{}
	listeners map[*Listener]struct{}
	closed    bool
	wg        sync.WaitGroup // live sessions
}

// NewManager creates a manager whose sessions report to h.
func NewManager(h Handler, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		handler:   h,
		logger:    cfg.Logger,
		sessions:  make(map[*Session]struct{}),
		listeners: make(map[*Listener]struct{}),
	}
}

// Listen binds host:port and accepts connections in the background, starting
// a session for each. Go sizes the accept backlog from the OS (somaxconn), so
// backlog is only validated. Port 0 picks a free port; see Listener.Addr.
func (m *Manager) Listen(ctx context.Context, host string, port, backlog int) (*Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if backlog < 0 {
		return nil, &ConnectionError{Op: "listen", Addr: addr, Err: fmt.Errorf("negative backlog %d", backlog)}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Addr: addr, Err: err}
	}

	l := &Listener{ln: ln, m: m, done: make(chan struct{})}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ln.Close()
		return nil, ErrManagerClosed
	}
	m.listeners[l] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("listening", zap.Stringer("addr", ln.Addr()), zap.Int("backlog", backlog))
	go l.acceptLoop()
	return l, nil
}

// Connect dials host:port and blocks until the TCP handshake completes or
// fails. On success the new session is already running.
func (m *Manager) Connect(ctx context.Context, host string, port int) (*Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	s, err := m.startSession(conn)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("connected", zap.String("session", s.ID()), zap.String("addr", addr))
	return s, nil
}

// Sessions returns a snapshot of the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops every listener, terminates every session and waits for their
// teardown to complete.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listeners := make([]*Listener, 0, len(m.listeners))
	for l := range m.listeners {
		listeners = append(listeners, l)
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range sessions {
		s.Terminate()
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) startSession(conn net.Conn) (*Session, error) {
	s := NewSession(conn, m.handler, SessionConfig{
		Codec:        m.cfg.Codec,
		Logger:       m.logger,
		MaxFrameSize: m.cfg.MaxFrameSize,
	})
	s.onTeardown = m.release

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, ErrManagerClosed
	}
	m.sessions[s] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	m.cfg.Metrics.SessionOpened()
	s.Start()
	return s, nil
}

// release removes s from the live set; it runs during s's teardown.
func (m *Manager) release(s *Session, err error) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
	m.cfg.Metrics.SessionClosed(CloseReason(err))
	m.wg.Done()
}

// Listener is a bound passive socket with its accept loop.
type Listener struct {
	ln      net.Listener
	m       *Manager
	closing atomic.Bool
	done    chan struct{}
	err     error
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting. Established sessions are not affected.
func (l *Listener) Close() error {
	if !l.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := l.ln.Close()
	<-l.done
	l.m.mu.Lock()
	delete(l.m.listeners, l)
	l.m.mu.Unlock()
	return err
}

// Wait blocks until the accept loop ends and returns the fatal accept error,
// or nil if the listener was closed.
func (l *Listener) Wait() error {
	<-l.done
	return l.err
}

func (l *Listener) acceptLoop() {
	defer close(l.done)
	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closing.Load() {
				return
			}
			if temporary(err) {
				// Same back-off shape as net/http.Server.
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				l.m.logger.Warn("accept failed, retrying", zap.Duration("delay", delay), zap.Error(err))
				time.Sleep(delay)
				continue
			}
			l.err = &ConnectionError{Op: "accept", Addr: l.ln.Addr().String(), Err: err}
			l.m.logger.Error("accept loop stopped", zap.Error(err))
			return
		}
		delay = 0
		if _, err := l.m.startSession(conn); err != nil {
			l.m.logger.Debug("rejecting connection", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		}
	}
}

func temporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}
