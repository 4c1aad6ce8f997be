package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/workerherd/herdd/daemon/protocol"
)

// mockWorker is a Worker whose process is simulated; tests decide when it
// exits through exitNow, or let a graceful stop end it immediately with
// dieOnStop.
type mockWorker struct {
	mu           sync.Mutex
	id           string
	pid          int
	startedAt    time.Time
	startupDelay time.Duration
	dieOnStop    bool
	ignoreKill   bool
	stopAt       time.Time
	stopCalls    int
	killCalls    int
	exit         *ExitInfo
}

func newMockWorker(pid int) *mockWorker {
	return &mockWorker{
		id:        NewULID().String(),
		pid:       pid,
		startedAt: time.Now(),
		dieOnStop: true,
	}
}

func (w *mockWorker) ID() string           { return w.id }
func (w *mockWorker) PID() int             { return w.pid }
func (w *mockWorker) StartedAt() time.Time { return w.startedAt }

func (w *mockWorker) Status() protocol.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.exit != nil:
		return protocol.Dead
	case !w.stopAt.IsZero():
		return protocol.Stopping
	case time.Since(w.startedAt) >= w.startupDelay:
		return protocol.Started
	default:
		return protocol.Starting
	}
}

func (w *mockWorker) StopGraceful() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopCalls++
	if w.exit != nil || !w.stopAt.IsZero() {
		return
	}
	w.stopAt = time.Now()
	if w.dieOnStop {
		w.exit = &ExitInfo{Code: 0}
	}
}

func (w *mockWorker) StoppingSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopAt
}

func (w *mockWorker) KillForced() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.killCalls++
	if w.exit != nil || w.ignoreKill {
		return
	}
	w.exit = &ExitInfo{Code: 9, Signaled: true}
}

func (w *mockWorker) PollExit() *ExitInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exit
}

// exitNow simulates the process dying on its own.
func (w *mockWorker) exitNow(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.exit == nil {
		w.exit = &ExitInfo{Code: code}
	}
}

// mockFleetFactory builds mockWorkers with distinct increasing pids and can
// be scripted to fail.
type mockFleetFactory struct {
	mu           sync.Mutex
	nextPID      int
	spawned      []*mockWorker
	failAfter    int // fail every spawn once this many workers were spawned; <0 never
	startupDelay time.Duration
	dieOnStop    bool
}

func newMockFleetFactory() *mockFleetFactory {
	return &mockFleetFactory{nextPID: 1000, failAfter: -1, dieOnStop: true}
}

func (f *mockFleetFactory) factory() (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAfter >= 0 && len(f.spawned) >= f.failAfter {
		return nil, ErrSpawn.New("scripted failure")
	}

	f.nextPID++
	w := newMockWorker(f.nextPID)
	w.startupDelay = f.startupDelay
	w.dieOnStop = f.dieOnStop
	f.spawned = append(f.spawned, w)
	return w, nil
}

func (f *mockFleetFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func (f *mockFleetFactory) worker(i int) *mockWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawned[i]
}

// scriptProbe replays a scripted sequence of depth observations; once the
// script runs out the last entry repeats.
type scriptProbe struct {
	mu      sync.Mutex
	depths  []int64
	errs    []error
	calls   int
	pingErr error
}

func (p *scriptProbe) Depth(ctx context.Context, queue string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	p.calls++
	if i >= len(p.depths) {
		i = len(p.depths) - 1
	}
	if i < 0 {
		return 0, nil
	}
	if p.errs != nil && p.errs[i] != nil {
		return 0, p.errs[i]
	}
	return p.depths[i], nil
}

func (p *scriptProbe) Ping(ctx context.Context) error { return p.pingErr }
func (p *scriptProbe) Close() error                   { return nil }

func testConfig() *Config {
	return &Config{
		QueueName:               "tasks",
		WorkerCommand:           []string{"sleep", "60"},
		MinProcesses:            1,
		MaxProcesses:            5,
		CheckInterval:           time.Second,
		ScaleUpMultiplier:       5,
		ScaleDownMultiplier:     2.5,
		GracefulShutdownTimeout: 100 * time.Millisecond,
		ProcessStartupDelay:     time.Millisecond,
	}
}
