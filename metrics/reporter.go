package metrics

import (
	"sync"
	"time"
)

// Backend receives periodic metric snapshots. Report is called from
// the reporter goroutine with a private copy of the values.
type Backend interface {
	Report(snapshot map[string]int64) error
}

// Reporter periodically snapshots a Registry and pushes the values to
// registered backends. The command uses it to surface trap and timer
// counters during long interactive runs.
type Reporter struct {
	registry *Registry
	interval time.Duration

	mu       sync.Mutex
	backends []Backend
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReporter creates a reporter over the given registry.
func NewReporter(reg *Registry, interval time.Duration) *Reporter {
	return &Reporter{registry: reg, interval: interval}
}

// AddBackend registers an export backend. Backends added while the
// reporter is running receive the next snapshot.
func (r *Reporter) AddBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// Start begins periodic reporting. Calling Start on a running reporter
// is a no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.loop()
}

// Stop halts reporting and blocks until the goroutine exits. Safe to
// call on a stopped reporter.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	<-r.doneCh
}

// Running reports whether the export goroutine is active.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reporter) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reportOnce()
		}
	}
}

// reportOnce snapshots the registry and fans the copy out. A failing
// backend does not stop the others.
func (r *Reporter) reportOnce() {
	snap := r.registry.Snapshot()

	r.mu.Lock()
	backends := make([]Backend, len(r.backends))
	copy(backends, r.backends)
	r.mu.Unlock()

	for _, b := range backends {
		_ = b.Report(snap)
	}
}
