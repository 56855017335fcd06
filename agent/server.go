// Package agent implements the attach server that lives inside the target
// process: a TCP acceptor spawning one session goroutine per connection, a
// shared session registry, and a reaper evicting idle sessions.
package agent

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/attachkit/agent/events"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultListenAddr    = "127.0.0.1:12345"
	defaultIdleTimeout   = 3 * time.Minute
	defaultReapInterval  = 5 * time.Second
	defaultProbeInterval = 10 * time.Second
)

// Server accepts attach connections and runs them as sessions.
type Server struct {
	log        *zap.SugaredLogger
	listenAddr string
	dispatcher Dispatcher

	idleTimeout   time.Duration
	reapInterval  time.Duration
	probeInterval time.Duration

	registry *Registry
	listener net.Listener
	reaper   *reaper
	events   *events.Bus

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("attach_server").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.log = s.log.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithIdleTimeout sets how long a session may go without a decoded frame
// before the reaper evicts it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithReapInterval sets how often the reaper scans the registry.
func WithReapInterval(d time.Duration) Option {
	return func(s *Server) {
		s.reapInterval = d
	}
}

// WithProbeInterval sets how long a session read blocks before sending a
// heartbeat probe.
func WithProbeInterval(d time.Duration) Option {
	return func(s *Server) {
		s.probeInterval = d
	}
}

// WithEvents publishes session lifecycle events to b.
func WithEvents(b *events.Bus) Option {
	return func(s *Server) {
		s.events = b
	}
}

// NewServer constructs an attach server routing frames to dispatcher.
func NewServer(dispatcher Dispatcher, opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:           logger.Named("attach_server").Sugar(),
		listenAddr:    defaultListenAddr,
		dispatcher:    dispatcher,
		idleTimeout:   defaultIdleTimeout,
		reapInterval:  defaultReapInterval,
		probeInterval: defaultProbeInterval,
		registry:      NewRegistry(),
		ready:         make(chan struct{}),
		closed:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Registry exposes the live-session set, e.g. for the admin surface.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr is the bound listener address. Valid after Start returns.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Ready is closed exactly once, when the listening socket is live.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Start binds the listening socket and returns once it is live, then serves
// in the background: an accept loop spawning a session goroutine per
// connection, and the reaper.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = listener
	s.log.Infof("attach server listening on %s", listener.Addr())
	s.readyOnce.Do(func() { close(s.ready) })

	s.reaper = &reaper{
		log:         s.log.Named("reaper"),
		registry:    s.registry,
		idleTimeout: s.idleTimeout,
		interval:    s.reapInterval,
		done:        s.closed,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.reaper.run()
	}()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.log.Errorf("accept failed: %s", err)
				}
			}
			return
		}

		sess := newSession(conn, s.registry, s.dispatcher, s.probeInterval, s.log.Named("session"))
		s.registry.Add(sess)
		s.log.Infof("accepted connection from %s", conn.RemoteAddr())
		s.publishSession(true, "session opened from "+conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
			s.publishSession(true, "session closed from "+conn.RemoteAddr().String())
		}()
	}
}

func (s *Server) publishSession(success bool, text string) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Kind:    events.KindSession,
		Success: success,
		Text:    text,
	})
}

// Close shuts the listener, interrupts the reaper, and force-closes every
// live session; their goroutines observe the closed socket and unwind. Close
// returns once everything has stopped.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.registry.Range(func(sess *Session) bool {
			s.registry.Remove(sess.ID())
			sess.Close()
			return true
		})
	})
	s.wg.Wait()
	return nil
}
