package deploy

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/protocol"
	"github.com/attachkit/agent/results"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// traceSettings is the process-wide tracing configuration, toggled by
// change-trace requests and consulted on each method run.
type traceSettings struct {
	enabled  atomic.Bool
	maxDepth atomic.Int64
}

// runHandlers covers the non-deploy mutations: method runs, script runs,
// result clearing and trace reconfiguration.
type runHandlers struct {
	log     *zap.SugaredLogger
	appName string

	resolver DomainResolver
	invoker  MethodInvoker
	scripts  ScriptEngine
	results  *results.Cache
	events   *events.Bus

	trace traceSettings
}

func (r *runHandlers) handleMethod(out io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.RunMethodRequest)

	fail := func(err error) error {
		r.log.Warnf("run method %s#%s failed: %s", req.ClassName, req.MethodName, err)
		return protocol.WriteFrame(out, protocol.NewFailureFrame(&protocol.RunMethodResponse{
			ThrowMessage:    err.Error(),
			ApplicationName: r.appName,
		}))
	}

	if r.invoker == nil {
		return fail(fmt.Errorf("no method invoker configured"))
	}
	domain, err := r.resolver.Resolve(req.Identity)
	if err != nil {
		return fail(err)
	}
	trace := TraceOptions{
		Enabled:  req.TraceEnabled || r.trace.enabled.Load(),
		MaxDepth: int(r.trace.maxDepth.Load()),
	}
	inv, err := r.invoker.Invoke(domain, req.ClassName, req.MethodName, req.Args, trace)
	if err != nil {
		return fail(err)
	}

	offset := "method_result_" + uuid.NewString()
	resp := &protocol.RunMethodResponse{
		OffsetPath:      offset,
		PrintResult:     inv.Printed,
		ApplicationName: r.appName,
	}
	r.results.Put(results.Entry{
		OffsetPath: offset,
		TypeName:   inv.TypeName,
		Printed:    inv.Printed,
	})
	if trace.Enabled {
		// The trace is its own cache entry so the advertised offset path
		// resolves and can be cleared independently of the result.
		traceOffset := "trace_" + offset
		r.results.Put(results.Entry{
			OffsetPath: traceOffset,
			Trace:      inv.Trace,
		})
		resp.TraceOffsetPath = traceOffset
	}

	r.publish(true, fmt.Sprintf("ran %s#%s", req.ClassName, req.MethodName))
	return protocol.WriteFrame(out, protocol.NewFrame(resp))
}

func (r *runHandlers) handleScript(out io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.RunScriptRequest)

	fail := func(err error) error {
		r.log.Warnf("run script failed: %s", err)
		return protocol.WriteFrame(out, protocol.NewFailureFrame(&protocol.RunScriptResponse{
			ThrowMessage:    err.Error(),
			ApplicationName: r.appName,
		}))
	}

	if r.scripts == nil {
		return fail(fmt.Errorf("no script engine configured"))
	}
	domain, err := r.resolver.Resolve(req.Identity)
	if err != nil {
		return fail(err)
	}
	inv, err := r.scripts.Eval(domain, req.Script)
	if err != nil {
		return fail(err)
	}

	offset := "script_result_" + uuid.NewString()
	r.results.Put(results.Entry{
		OffsetPath: offset,
		TypeName:   inv.TypeName,
		Printed:    inv.Printed,
	})

	r.publish(true, "ran script")
	return protocol.WriteFrame(out, protocol.NewFrame(&protocol.RunScriptResponse{
		OffsetPath:      offset,
		PrintResult:     inv.Printed,
		ApplicationName: r.appName,
	}))
}

// handleClear drops cached results. Fire-and-forget: the client does not
// wait for a reply.
func (r *runHandlers) handleClear(_ io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.ClearResultRequest)
	if req.FieldOffset != "" {
		r.results.Remove(rootOffset(req.FieldOffset))
	}
	if req.TraceOffset != "" {
		r.results.Remove(req.TraceOffset)
	}
	return nil
}

// handleChangeTrace reconfigures tracing. Fire-and-forget.
func (r *runHandlers) handleChangeTrace(_ io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.ChangeTraceRequest)
	r.trace.enabled.Store(req.Enabled)
	r.trace.maxDepth.Store(int64(req.MaxDepth))
	r.log.Infof("method tracing enabled=%v maxDepth=%d", req.Enabled, req.MaxDepth)
	return nil
}

// rootOffset strips the field navigation suffix from an offset path:
// "method_result_1/24@OBJECT" clears the whole cached entry
// "method_result_1".
func rootOffset(offsetPath string) string {
	for i := 0; i < len(offsetPath); i++ {
		if offsetPath[i] == '/' {
			return offsetPath[:i]
		}
	}
	return offsetPath
}

func (r *runHandlers) publish(success bool, text string) {
	if r.events == nil {
		return
	}
	r.events.Publish(events.Event{
		Kind:        events.KindRun,
		Success:     success,
		Text:        text,
		Application: r.appName,
	})
}
