// Package client implements the development-tool side of the attach
// protocol: a TCP client for the framed command channel and an HTTP client
// for the read-only admin surface.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/attachkit/agent/protocol"
	"go.uber.org/zap"
)

// Client is one attach connection. Requests on a single client are
// serialized, matching the per-connection ordering the server guarantees.
type Client struct {
	log     *zap.SugaredLogger
	conn    net.Conn
	timeout time.Duration

	mu sync.Mutex
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("attach_client").Sugar()
	}
}

// WithTimeout bounds each request/response exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Dial connects to an agent's attach port.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing agent at %s: %w", addr, err)
	}
	c := &Client{
		log:     zap.NewNop().Sugar(),
		conn:    conn,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request and waits for the response with the expected
// command, skipping unsolicited heartbeat probes the server may interleave.
func (c *Client) roundTrip(req protocol.Message, wantCommand byte) (*protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(c.conn, protocol.NewFrame(req)); err != nil {
		return nil, err
	}
	for {
		frame, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return nil, err
		}
		if frame.Message.Command() == wantCommand {
			return frame, nil
		}
		if frame.Message.Command() == protocol.CommandHeartbeatResponse {
			c.log.Debug("skipping heartbeat probe")
			continue
		}
		return nil, fmt.Errorf("unexpected response command %d, want %d", frame.Message.Command(), wantCommand)
	}
}

// send writes a fire-and-forget request.
func (c *Client) send(req protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, protocol.NewFrame(req))
}

// Heartbeat probes the agent and returns once it answers.
func (c *Client) Heartbeat() error {
	_, err := c.roundTrip(&protocol.HeartbeatRequest{}, protocol.CommandHeartbeatResponse)
	return err
}

// DeployClasses sends locally compiled class files for hot replacement.
// The bool reports the agent-side success flag.
func (c *Client) DeployClasses(identity string, files map[string][]byte) (*protocol.DeployResponse, bool, error) {
	req := &protocol.LocalDeployRequest{}
	req.Identity = identity
	for p, b := range files {
		req.Add(p, b)
	}
	return c.deploy(req)
}

// DeploySources sends source files for agent-side compilation and hot
// replacement.
func (c *Client) DeploySources(identity string, files map[string][]byte) (*protocol.DeployResponse, bool, error) {
	req := &protocol.RemoteDeployRequest{}
	req.Identity = identity
	for p, b := range files {
		req.Add(p, b)
	}
	return c.deploy(req)
}

// DeployResources sends resource files for staging.
func (c *Client) DeployResources(identity string, files map[string][]byte) (*protocol.DeployResponse, bool, error) {
	req := &protocol.ResourceDeployRequest{}
	req.Identity = identity
	for p, b := range files {
		req.Add(p, b)
	}
	return c.deploy(req)
}

func (c *Client) deploy(req protocol.Message) (*protocol.DeployResponse, bool, error) {
	frame, err := c.roundTrip(req, protocol.CommandDeployResponse)
	if err != nil {
		return nil, false, err
	}
	return frame.Message.(*protocol.DeployResponse), frame.Success(), nil
}

// RunMethod invokes one method in the target process.
func (c *Client) RunMethod(req *protocol.RunMethodRequest) (*protocol.RunMethodResponse, bool, error) {
	frame, err := c.roundTrip(req, protocol.CommandRunMethodResponse)
	if err != nil {
		return nil, false, err
	}
	return frame.Message.(*protocol.RunMethodResponse), frame.Success(), nil
}

// RunScript evaluates a script in the target process.
func (c *Client) RunScript(identity, script string) (*protocol.RunScriptResponse, bool, error) {
	frame, err := c.roundTrip(&protocol.RunScriptRequest{Identity: identity, Script: script}, protocol.CommandRunScriptResponse)
	if err != nil {
		return nil, false, err
	}
	return frame.Message.(*protocol.RunScriptResponse), frame.Success(), nil
}

// ClearResult drops cached results on the agent. Fire-and-forget.
func (c *Client) ClearResult(fieldOffset, traceOffset string) error {
	return c.send(&protocol.ClearResultRequest{FieldOffset: fieldOffset, TraceOffset: traceOffset})
}

// ChangeTrace reconfigures method tracing on the agent. Fire-and-forget.
func (c *Client) ChangeTrace(enabled bool, maxDepth int) error {
	return c.send(&protocol.ChangeTraceRequest{Enabled: enabled, MaxDepth: maxDepth})
}

// RequestServerClose asks the agent to shut down. Fire-and-forget.
func (c *Client) RequestServerClose() error {
	return c.send(&protocol.ServerCloseRequest{})
}
