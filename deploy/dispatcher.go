// Package deploy routes decoded attach-protocol frames to their mutation
// handlers and owns the live-code-replacement critical section.
package deploy

import (
	"io"

	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/protocol"
	"github.com/attachkit/agent/results"
	"go.uber.org/zap"
)

// Handler processes one decoded frame. Failure paths must be converted to
// failure response frames where the command has a response; the returned
// error reports only output-channel trouble, which the caller logs.
type Handler interface {
	Handle(out io.Writer, frame *protocol.Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(out io.Writer, frame *protocol.Frame) error

func (f HandlerFunc) Handle(out io.Writer, frame *protocol.Frame) error {
	return f(out, frame)
}

// Dispatcher maps command IDs to handlers. The handler table is built during
// construction and read-only afterwards; Handle is safe for concurrent use
// by many sessions.
type Dispatcher struct {
	log      *zap.SugaredLogger
	handlers map[byte]Handler
	hot      *HotDeployHandler
}

// Config carries the collaborators the standard handler set needs.
type Config struct {
	Logger *zap.SugaredLogger

	// ApplicationName tags every response.
	ApplicationName string

	Resolver  DomainResolver
	Redefiner Redefiner
	Compiler  Compiler
	Invoker   MethodInvoker
	Scripts   ScriptEngine

	Staging *Staging
	Results *results.Cache
	Events  *events.Bus

	// OnServerClose runs when a client sends a server-close request.
	OnServerClose func()
}

// NewDispatcher builds a dispatcher with the full standard handler set.
func NewDispatcher(cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NotFoundResolver{}
	}
	if cfg.Results == nil {
		cfg.Results = results.NewCache()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBus()
	}

	hot := &HotDeployHandler{
		log:       log.Named("hot_deploy"),
		appName:   cfg.ApplicationName,
		resolver:  cfg.Resolver,
		redefiner: cfg.Redefiner,
		compiler:  cfg.Compiler,
		staging:   cfg.Staging,
		events:    cfg.Events,
	}
	d := &Dispatcher{
		log:      log.Named("dispatcher"),
		handlers: map[byte]Handler{},
		hot:      hot,
	}
	run := &runHandlers{
		log:      log.Named("run"),
		appName:  cfg.ApplicationName,
		resolver: cfg.Resolver,
		invoker:  cfg.Invoker,
		scripts:  cfg.Scripts,
		results:  cfg.Results,
		events:   cfg.Events,
	}

	d.register(protocol.CommandHeartbeatRequest, HandlerFunc(handleHeartbeat))
	d.register(protocol.CommandLocalDeployRequest, HandlerFunc(hot.handleLocal))
	d.register(protocol.CommandRemoteDeployRequest, HandlerFunc(hot.handleRemote))
	d.register(protocol.CommandResourceDeployRequest, HandlerFunc(hot.handleResource))
	d.register(protocol.CommandRunMethodRequest, HandlerFunc(run.handleMethod))
	d.register(protocol.CommandRunScriptRequest, HandlerFunc(run.handleScript))
	d.register(protocol.CommandClearResultRequest, HandlerFunc(run.handleClear))
	d.register(protocol.CommandChangeTraceRequest, HandlerFunc(run.handleChangeTrace))
	d.register(protocol.CommandServerCloseRequest, HandlerFunc(func(io.Writer, *protocol.Frame) error {
		log.Info("server close requested by client")
		if cfg.OnServerClose != nil {
			go cfg.OnServerClose()
		}
		return nil
	}))

	return d
}

// HotDeploy exposes the hot-deploy applier so out-of-band sources (the
// staging watcher) can reuse the same critical section.
func (d *Dispatcher) HotDeploy() *HotDeployHandler {
	return d.hot
}

func (d *Dispatcher) register(command byte, h Handler) {
	d.handlers[command] = h
}

// Handle routes one frame. Unrouteable frames are logged and dropped; a
// handler panic is contained here so a bad request can never take the
// session down with it.
func (d *Dispatcher) Handle(out io.Writer, frame *protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("handler for command %d panicked: %v", frame.Message.Command(), r)
		}
	}()

	h, ok := d.handlers[frame.Message.Command()]
	if !ok {
		d.log.Warnf("no handler for command %d", frame.Message.Command())
		return
	}
	if err := h.Handle(out, frame); err != nil {
		d.log.Warnf("writing response for command %d: %s", frame.Message.Command(), err)
	}
}

func handleHeartbeat(out io.Writer, _ *protocol.Frame) error {
	return protocol.WriteFrame(out, protocol.NewFrame(&protocol.HeartbeatResponse{}))
}
