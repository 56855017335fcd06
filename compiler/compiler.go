// Package compiler implements source compilation against a remote compile
// service. Remote-compile deploy requests carry source files instead of
// bytecode; the agent ships them to the service and deploys whatever it
// returns.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// RemoteCompiler posts source batches to an HTTP compile service.
type RemoteCompiler struct {
	log        *zap.SugaredLogger
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

type Option func(c *RemoteCompiler)

func WithLogger(l *zap.Logger) Option {
	return func(c *RemoteCompiler) {
		c.log = l.Named("compiler").Sugar()
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *RemoteCompiler) {
		c.timeout = d
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewRemoteCompiler builds a compiler client for the service at url, which
// must accept POST /compile.
func NewRemoteCompiler(url string, opts ...Option) *RemoteCompiler {
	c := &RemoteCompiler{
		log:      zap.NewNop().Sugar(),
		endpoint: url + "/compile",
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = &logAdapter{SugaredLogger: c.log}
	c.httpClient = retryClient.StandardClient()

	return c
}

type compileRequest struct {
	Sources map[string][]byte `json:"sources"`
}

type compileResponse struct {
	Classes map[string][]byte `json:"classes"`
	Error   string            `json:"error"`
}

// Compile sends sources, keyed by relative path, to the compile service and
// returns the resulting bytecode keyed by class file path.
func (c *RemoteCompiler) Compile(sources map[string][]byte) (map[string][]byte, error) {
	body, err := json.Marshal(compileRequest{Sources: sources})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debugw("compiling sources", "count", len(sources))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling compile service: %w", err)
	}
	defer resp.Body.Close()

	var result compileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding compile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("compile failed: %s", result.Error)
		}
		return nil, fmt.Errorf("compile service returned status %d", resp.StatusCode)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("compile failed: %s", result.Error)
	}
	return result.Classes, nil
}
