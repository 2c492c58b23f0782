package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockBackend records every Report call for test inspection.
type mockBackend struct {
	mu      sync.Mutex
	calls   []map[string]int64
	failErr error // if non-nil, Report returns this error
}

func (m *mockBackend) Report(snapshot map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]int64, len(snapshot))
	for k, v := range snapshot {
		cp[k] = v
	}
	m.calls = append(m.calls, cp)
	return m.failErr
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockBackend) lastCall() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewReporter(t *testing.T) {
	r := NewReporter(NewRegistry(), time.Second)
	if r == nil {
		t.Fatal("NewReporter returned nil")
	}
	if r.Running() {
		t.Fatal("reporter should not be running immediately after creation")
	}
}

func TestReporter_PushesSnapshots(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("r.count").Add(3)

	r := NewReporter(reg, 5*time.Millisecond)
	b := &mockBackend{}
	r.AddBackend(b)
	r.Start()
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool { return b.callCount() >= 1 })

	snap := b.lastCall()
	if snap["r.count"] != 3 {
		t.Fatalf("reported r.count = %d, want 3", snap["r.count"])
	}
}

func TestReporter_StartStopIdempotent(t *testing.T) {
	r := NewReporter(NewRegistry(), time.Hour)
	r.Start()
	r.Start() // no-op
	if !r.Running() {
		t.Fatal("reporter not running after Start")
	}
	r.Stop()
	r.Stop() // no-op
	if r.Running() {
		t.Fatal("reporter still running after Stop")
	}
}

func TestReporter_FailingBackendDoesNotBlockOthers(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("c").Inc()

	r := NewReporter(reg, 5*time.Millisecond)
	bad := &mockBackend{failErr: errors.New("backend down")}
	good := &mockBackend{}
	r.AddBackend(bad)
	r.AddBackend(good)
	r.Start()
	defer r.Stop()

	waitFor(t, 2*time.Second, func() bool { return good.callCount() >= 1 })
}

func TestReporter_BackendAddedWhileRunning(t *testing.T) {
	r := NewReporter(NewRegistry(), 5*time.Millisecond)
	r.Start()
	defer r.Stop()

	b := &mockBackend{}
	r.AddBackend(b)
	waitFor(t, 2*time.Second, func() bool { return b.callCount() >= 1 })
}
