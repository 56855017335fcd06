package agent

import (
	"time"

	"go.uber.org/zap"
)

// reaper periodically scans the registry and evicts sessions idle beyond the
// threshold, bounding socket and memory growth from abandoned clients. It
// runs concurrently with inserts from the accept loop and removals from
// sessions closing themselves.
type reaper struct {
	log         *zap.SugaredLogger
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	done        chan struct{}
}

func (r *reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
		r.sweep()
	}
}

func (r *reaper) sweep() {
	now := time.Now()
	r.registry.Range(func(s *Session) bool {
		idle := now.Sub(s.LastActive())
		if idle > r.idleTimeout {
			r.log.Infof("evicting session %s idle for %s", s.RemoteAddr(), idle)
			r.registry.Remove(s.ID())
			s.Close()
		}
		return true
	})
}
