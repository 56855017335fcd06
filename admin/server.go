// Package admin exposes the agent's read-only administrative surface over
// HTTP: application identity, live sessions, cached run results, and a
// WebSocket stream of agent events. It reads state the core maintains and
// mutates nothing.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/attachkit/agent/agent"
	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/results"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// DomainLister enumerates the identity tags of live code domains.
type DomainLister interface {
	Domains() []string
}

// Server is the admin HTTP server.
type Server struct {
	log        *zap.SugaredLogger
	listenAddr string
	appName    string

	registry *agent.Registry
	results  *results.Cache
	events   *events.Bus
	domains  DomainLister

	listener   net.Listener
	httpServer *http.Server
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("admin").Sugar()
	}
}

func WithRegistry(r *agent.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

func WithResults(c *results.Cache) Option {
	return func(s *Server) {
		s.results = c
	}
}

func WithEvents(b *events.Bus) Option {
	return func(s *Server) {
		s.events = b
	}
}

func WithDomainLister(d DomainLister) Option {
	return func(s *Server) {
		s.domains = d
	}
}

func NewServer(appName string, opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:        logger.Named("admin").Sugar(),
		listenAddr: "127.0.0.1:0",
		appName:    appName,
		results:    results.NewCache(),
		events:     events.NewBus(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Addr is the bound address. Valid after Start returns.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start binds the admin listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = listener

	router := httprouter.New()
	router.GET("/", s.index)
	router.GET("/applicationName", s.applicationName)
	router.GET("/allClassLoader", s.allClassLoader)
	router.GET("/sessions", s.sessions)
	router.GET("/runResult/type", s.runResultType)
	router.GET("/runResult/detail", s.runResultDetail)
	router.GET("/runResult/trace", s.runResultTrace)
	router.GET("/events", s.eventStream)

	s.httpServer = &http.Server{Handler: router}
	s.log.Infof("admin server listening on %s", listener.Addr())

	go func() {
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("admin server stopped: %s", err)
		}
	}()
	return nil
}

func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	fmt.Fprintf(w, "%s attach agent is running\n", s.appName)
}

func (s *Server) applicationName(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, struct {
		ApplicationName string `json:"applicationName"`
	}{s.appName})
}

func (s *Server) allClassLoader(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var domains []string
	if s.domains != nil {
		domains = s.domains.Domains()
	}
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, domains)
}

type sessionInfo struct {
	RemoteAddr string `json:"remoteAddr"`
	LastActive string `json:"lastActive"`
}

func (s *Server) sessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	infos := []sessionInfo{}
	if s.registry != nil {
		s.registry.Range(func(sess *agent.Session) bool {
			infos = append(infos, sessionInfo{
				RemoteAddr: sess.RemoteAddr().String(),
				LastActive: sess.LastActive().UTC().Format(time.RFC3339),
			})
			return true
		})
	}
	writeJSON(w, infos)
}

func (s *Server) lookupResult(w http.ResponseWriter, r *http.Request) (results.Entry, bool) {
	offsetPath := r.URL.Query().Get("offsetPath")
	if offsetPath == "" {
		http.Error(w, "missing offsetPath", http.StatusBadRequest)
		return results.Entry{}, false
	}
	entry, ok := s.results.Get(offsetPath)
	if !ok {
		http.Error(w, "no such result", http.StatusNotFound)
		return results.Entry{}, false
	}
	return entry, true
}

func (s *Server) runResultType(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entry, ok := s.lookupResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, struct {
		TypeName string `json:"typeName"`
	}{entry.TypeName})
}

func (s *Server) runResultDetail(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entry, ok := s.lookupResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, entry)
}

func (s *Server) runResultTrace(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entry, ok := s.lookupResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, struct {
		Trace string `json:"trace"`
	}{entry.Trace})
}

// eventStream pushes agent events over a WebSocket until the client goes
// away. Slow clients miss events rather than stalling publishers.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("event stream accept error: %s", err)
		return
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	ch, cancel := s.events.Subscribe()
	defer cancel()

	// The stream is write-only; CloseRead keeps processing the client's
	// control frames and cancels the context as soon as the client goes
	// away, instead of waiting for the next event write to fail.
	ctx := wsConn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, wsConn, event); err != nil {
				s.log.Debugf("event stream write error: %s", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(b)
}
