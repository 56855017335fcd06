package deploy

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/protocol"
	"go.uber.org/zap"
)

// HotDeployHandler applies replacement batches to the running process and
// stages them to disk for future restarts.
//
// mu is the system's single most important invariant: at most one
// replacement batch is in flight at any instant, across all sessions,
// because the facility is not reentrant and interdependent code units must
// be swapped together.
type HotDeployHandler struct {
	log     *zap.SugaredLogger
	appName string

	resolver  DomainResolver
	redefiner Redefiner
	compiler  Compiler
	staging   *Staging
	events    *events.Bus

	mu sync.Mutex
}

func (h *HotDeployHandler) handleLocal(out io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.LocalDeployRequest)
	return h.deploy(out, req.Identity, func() (map[string][]byte, error) {
		return req.Contents, nil
	})
}

func (h *HotDeployHandler) handleRemote(out io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.RemoteDeployRequest)
	return h.deploy(out, req.Identity, func() (map[string][]byte, error) {
		if h.compiler == nil {
			return nil, fmt.Errorf("no compiler configured for source deploys")
		}
		return h.compiler.Compile(req.Contents)
	})
}

// handleResource stages resource files without touching loaded code. The
// staged copy is authoritative for the next resource lookup, so staging
// success is the whole operation.
func (h *HotDeployHandler) handleResource(out io.Writer, frame *protocol.Frame) error {
	req := frame.Message.(*protocol.ResourceDeployRequest)
	paths := sortedPaths(req.Contents)

	if err := h.staging.WriteBatch(req.Contents); err != nil {
		return h.fail(out, fmt.Sprintf("resource deploy error, file [%s]: %s", paths, err))
	}
	return h.succeed(out, fmt.Sprintf("resource deploy success, file [%s]", paths))
}

// deploy runs the full replacement algorithm for one batch: extract,
// resolve the code domain, stage to disk, filter to loaded units, and apply
// under the global lock. Every failure path ends in exactly one failure
// response; none of them aborts the session.
func (h *HotDeployHandler) deploy(out io.Writer, identity string, extract func() (map[string][]byte, error)) error {
	start := time.Now()

	batch, err := extract()
	if err != nil {
		return h.fail(out, fmt.Sprintf("hot deploy error: %s", err))
	}
	paths := sortedPaths(batch)

	applied, err := h.Apply(identity, batch)
	if err != nil {
		h.log.Errorf("failed to reload [%s]: %s", paths, err)
		return h.fail(out, fmt.Sprintf("hot deploy error, file [%s]: %s", paths, err))
	}

	if len(applied) == 0 {
		// Nothing in the batch is loaded yet. The staged copy wins on first
		// load, so this is still a success.
		h.log.Warnf("no loaded code units to redefine in [%s]", paths)
		return h.succeed(out, fmt.Sprintf("hot deploy success, file [%s]", paths))
	}
	return h.succeed(out, fmt.Sprintf("hot deploy success, cost %d ms, file [%s]", time.Since(start).Milliseconds(), paths))
}

// Apply stages the batch and redefines its loaded subset in the domain named
// by identity, serialized against every other replacement in the process.
// It returns the paths actually redefined.
func (h *HotDeployHandler) Apply(identity string, batch map[string][]byte) ([]string, error) {
	domain, err := h.resolver.Resolve(identity)
	if err != nil {
		return nil, fmt.Errorf("resolving code domain %q: %w", identity, err)
	}

	// Staged outside the critical section. A staging failure costs restart
	// durability, not the in-memory replacement, so it only logs.
	if err := h.staging.WriteBatch(batch); err != nil {
		h.log.Errorf("staging batch to disk: %s", err)
	}
	return h.applyDomain(domain, batch)
}

// ApplyLoaded redefines the loaded subset of batch without staging it,
// for callers whose content already lives in the staging directory (the
// staging watcher). Serialized under the same replacement lock.
func (h *HotDeployHandler) ApplyLoaded(identity string, batch map[string][]byte) ([]string, error) {
	domain, err := h.resolver.Resolve(identity)
	if err != nil {
		return nil, fmt.Errorf("resolving code domain %q: %w", identity, err)
	}
	return h.applyDomain(domain, batch)
}

func (h *HotDeployHandler) applyDomain(domain Domain, batch map[string][]byte) ([]string, error) {
	loaded := map[string][]byte{}
	for path, content := range batch {
		if domain.IsLoaded(path) {
			loaded[path] = content
		}
	}
	if len(loaded) == 0 {
		return nil, nil
	}
	if h.redefiner == nil {
		return nil, fmt.Errorf("no redefiner configured")
	}

	applied := sortedPathList(loaded)
	h.log.Infof("reloading [%s] in domain %s", strings.Join(applied, ", "), domain.Name())
	h.mu.Lock()
	err := h.redefiner.Redefine(domain, loaded)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("redefining batch: %w", err)
	}
	return applied, nil
}

func (h *HotDeployHandler) fail(out io.Writer, text string) error {
	h.publish(false, text)
	return protocol.WriteFrame(out, protocol.NewFailureFrame(&protocol.DeployResponse{
		Text:            text,
		ApplicationName: h.appName,
	}))
}

func (h *HotDeployHandler) succeed(out io.Writer, text string) error {
	h.publish(true, text)
	return protocol.WriteFrame(out, protocol.NewFrame(&protocol.DeployResponse{
		Text:            text,
		ApplicationName: h.appName,
	}))
}

func (h *HotDeployHandler) publish(success bool, text string) {
	if h.events == nil {
		return
	}
	h.events.Publish(events.Event{
		Kind:        events.KindDeploy,
		Success:     success,
		Text:        text,
		Application: h.appName,
	})
}

func sortedPathList(batch map[string][]byte) []string {
	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func sortedPaths(batch map[string][]byte) string {
	return strings.Join(sortedPathList(batch), ", ")
}
