package agent

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/attachkit/agent/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher routes a decoded frame to its handler. Implementations must
// write exactly one response frame per request to out (heartbeat probes
// excepted) and must not panic past their boundary.
type Dispatcher interface {
	Handle(out io.Writer, frame *protocol.Frame)
}

// Session is the state and goroutine of one accepted connection. The session
// goroutine owns the socket exclusively until close; the registry reference
// is non-owning and used only for timestamp refresh and self-removal.
type Session struct {
	id            uuid.UUID
	log           *zap.SugaredLogger
	conn          net.Conn
	reader        *bufio.Reader
	registry      *Registry
	dispatcher    Dispatcher
	probeInterval time.Duration

	lastActive atomic.Int64 // unix nanos
	closed     atomic.Bool
	closeOnce  sync.Once
}

func newSession(conn net.Conn, registry *Registry, dispatcher Dispatcher, probeInterval time.Duration, log *zap.SugaredLogger) *Session {
	s := &Session{
		id:            uuid.New(),
		conn:          conn,
		reader:        bufio.NewReader(conn),
		registry:      registry,
		dispatcher:    dispatcher,
		probeInterval: probeInterval,
		log:           log.With("session", conn.RemoteAddr().String()),
	}
	s.touch()
	return s
}

// ID is the session's registry identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteAddr is the peer address of the underlying socket.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LastActive is the time of the last successfully decoded frame.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// run is the session loop: decode one frame, refresh the activity timestamp,
// dispatch, repeat. Only the wait for a frame's first byte is bounded by the
// probe interval; an expiry there means the peer sent nothing this cycle and
// triggers a heartbeat probe to detect a half-open connection. Once a frame
// has started, reads block until the frame is complete, however slowly the
// bytes arrive; the reaper covers peers that stall forever mid-frame.
// Frames on one session are processed strictly in arrival order.
func (s *Session) run() {
	defer s.Close()

	for !s.closed.Load() {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.probeInterval)); err != nil {
			s.registry.Remove(s.id)
			return
		}
		if _, err := s.reader.Peek(1); err != nil {
			if isTimeout(err) {
				// No frame this cycle. Probe the peer; a failed write means
				// the connection is half-open and the session is done.
				if probeErr := s.probe(); probeErr != nil {
					s.log.Debugf("heartbeat probe failed, closing: %s", probeErr)
					s.registry.Remove(s.id)
					return
				}
				continue
			}
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				s.log.Warnf("closing session: %s", err)
			}
			s.registry.Remove(s.id)
			return
		}

		if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
			s.registry.Remove(s.id)
			return
		}
		frame, err := protocol.ReadFrame(s.reader)
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, io.EOF) {
				s.log.Warnf("closing session: %s", err)
			}
			s.registry.Remove(s.id)
			return
		}

		s.touch()
		s.dispatcher.Handle(s.conn, frame)
	}
	s.registry.Remove(s.id)
}

func (s *Session) probe() error {
	return protocol.WriteFrame(s.conn, protocol.NewFrame(&protocol.HeartbeatResponse{}))
}

// Close force-closes the session's socket. Safe to call from any goroutine;
// an in-flight blocking read is unblocked by the socket close. Cleanup never
// propagates errors.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
			_ = tcp.CloseRead()
		}
		_ = s.conn.Close()
	})
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
