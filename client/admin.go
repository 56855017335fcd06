package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/results"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// AdminClient talks to the agent's read-only admin surface.
type AdminClient struct {
	log        *zap.SugaredLogger
	httpClient *http.Client
	baseURL    string
	wsURL      string

	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type AdminOption func(c *AdminClient)

func WithAdminLogger(l *zap.Logger) AdminOption {
	return func(c *AdminClient) {
		c.log = l.Named("admin_client").Sugar()
	}
}

func WithWaitInterval(d time.Duration) AdminOption {
	return func(c *AdminClient) {
		c.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) AdminOption {
	return func(c *AdminClient) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewAdminClient builds a client for the admin server at addr (host:port).
func NewAdminClient(addr string, opts ...AdminOption) *AdminClient {
	c := &AdminClient{
		log:          zap.NewNop().Sugar(),
		baseURL:      "http://" + addr,
		wsURL:        "ws://" + addr,
		waitInterval: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 10
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.Logger = &logAdapter{SugaredLogger: c.log}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.httpClient = retryClient.StandardClient()

	return c
}

// WaitForServer blocks until the admin server answers, polling at the wait
// interval, or until ctx is done.
func (c *AdminClient) WaitForServer(ctx context.Context) error {
	for {
		err := func() error {
			reqCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		}()
		if err == nil {
			return nil
		}
		c.log.Debugf("waiting for admin server: %s", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.waitInterval):
		}
	}
}

func (c *AdminClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ApplicationName fetches the name of the attached application.
func (c *AdminClient) ApplicationName(ctx context.Context) (string, error) {
	var got struct {
		ApplicationName string `json:"applicationName"`
	}
	if err := c.getJSON(ctx, "/applicationName", &got); err != nil {
		return "", err
	}
	return got.ApplicationName, nil
}

// Domains lists the identity tags of live code domains.
func (c *AdminClient) Domains(ctx context.Context) ([]string, error) {
	var got []string
	if err := c.getJSON(ctx, "/allClassLoader", &got); err != nil {
		return nil, err
	}
	return got, nil
}

// ResultDetail fetches a cached run result by its offset path.
func (c *AdminClient) ResultDetail(ctx context.Context, offsetPath string) (results.Entry, error) {
	var entry results.Entry
	err := c.getJSON(ctx, "/runResult/detail?offsetPath="+offsetPath, &entry)
	return entry, err
}

// Events opens the agent event stream. The returned cancel closes the
// stream; the channel closes when the stream ends.
func (c *AdminClient) Events(ctx context.Context) (<-chan events.Event, func(), error) {
	wsConn, _, err := websocket.Dial(ctx, c.wsURL+"/events", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing event stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer wsConn.Close(websocket.StatusNormalClosure, "")
		for {
			var event events.Event
			if err := wsjson.Read(streamCtx, wsConn, &event); err != nil {
				return
			}
			select {
			case ch <- event:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return ch, cancel, nil
}
