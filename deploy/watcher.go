package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StagingWatcher feeds class files edited directly in the staging directory
// back through the hot-deploy path, so a file dropped on disk behaves like a
// deploy request. It shares the handler's replacement lock, so watcher
// deploys and protocol deploys never run concurrently.
type StagingWatcher struct {
	log      *zap.SugaredLogger
	handler  *HotDeployHandler
	dir      string
	identity string

	mu       sync.Mutex
	debounce *time.Timer
	pending  map[string]struct{}
}

// NewStagingWatcher watches dir and applies changed .class files to the
// domain named by identity (empty for the default domain).
func NewStagingWatcher(log *zap.SugaredLogger, handler *HotDeployHandler, dir, identity string) *StagingWatcher {
	return &StagingWatcher{
		log:      log.Named("staging_watcher"),
		handler:  handler,
		dir:      dir,
		identity: identity,
		pending:  map[string]struct{}{},
	}
}

// Run watches until ctx is done. New subdirectories are picked up as they
// appear, since staging writes create parents on demand.
func (w *StagingWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(watcher, event.Name); err != nil {
						w.log.Warnf("watching new dir %s: %s", event.Name, err)
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".class") {
				continue
			}
			w.enqueue(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watch error: %s", err)
		}
	}
}

func (w *StagingWatcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// enqueue coalesces rapid successive writes (compilers write class files in
// bursts) into one batch applied after a short quiet period.
func (w *StagingWatcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(200*time.Millisecond, w.flush)
}

func (w *StagingWatcher) flush() {
	w.mu.Lock()
	paths := w.pending
	w.pending = map[string]struct{}{}
	w.mu.Unlock()

	batch := map[string][]byte{}
	for path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			w.log.Warnf("reading %s: %s", path, err)
			continue
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			w.log.Warnf("relativizing %s: %s", path, err)
			continue
		}
		batch[filepath.ToSlash(rel)] = content
	}
	if len(batch) == 0 {
		return
	}

	applied, err := w.handler.ApplyLoaded(w.identity, batch)
	if err != nil {
		w.log.Errorf("applying staged changes: %s", err)
		return
	}
	w.log.Infof("applied %d staged class files (%d loaded)", len(batch), len(applied))
}
