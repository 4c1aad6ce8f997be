package daemon

import (
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/daemon/protocol"
)

// ExitInfo is the OS-reported outcome of a worker process.
type ExitInfo struct {
	// Code is the exit code, or the signal number when Signaled.
	Code int
	// Signaled is true when the process was terminated by a signal.
	Signaled bool
}

// Worker is one live child process of the fleet. The fleet owns every
// worker outright from spawn to disposal; workers never reference back.
type Worker interface {
	ID() string
	PID() int
	StartedAt() time.Time
	Status() protocol.WorkerStatus
	// StopGraceful delivers the polite termination signal. Idempotent;
	// a no-op on a dead worker.
	StopGraceful()
	// StoppingSince returns when the graceful stop was requested, zero if
	// it never was.
	StoppingSince() time.Time
	// KillForced delivers the unignorable termination signal. Idempotent.
	KillForced()
	// PollExit returns the exit information if the process has exited,
	// without blocking. Nil while the process is alive.
	PollExit() *ExitInfo
}

// FactoryFunction spawns a new worker instance.
type FactoryFunction func() (Worker, error)

// WorkerInstance is a Worker backed by a real OS process.
type WorkerInstance struct {
	id        string
	cmd       *exec.Cmd
	startedAt time.Time

	// startupDelay is how long after spawn the instance keeps reporting
	// Starting before it counts as running.
	startupDelay time.Duration

	mu          sync.Mutex
	stopAt      time.Time
	forceKilled bool
	exit        *ExitInfo
}

// SpawnWorker launches the given command line as a child process. The
// returned instance is in the Starting state with a fresh pid.
func SpawnWorker(argv []string, startupDelay time.Duration) (*WorkerInstance, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, ErrSpawn.New(err)
	}

	w := &WorkerInstance{
		id:           NewULID().String(),
		cmd:          cmd,
		startedAt:    time.Now(),
		startupDelay: startupDelay,
	}

	go w.wait()
	return w, nil
}

// wait collects the exit status as soon as the OS reports it, so PollExit
// never blocks.
func (w *WorkerInstance) wait() {
	err := w.cmd.Wait()

	info := &ExitInfo{}
	if state := w.cmd.ProcessState; state != nil {
		info.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signaled = true
			info.Code = int(ws.Signal())
		}
	} else if err != nil {
		info.Code = -1
	}

	w.mu.Lock()
	w.exit = info
	w.mu.Unlock()
}

func (w *WorkerInstance) ID() string {
	return w.id
}

func (w *WorkerInstance) PID() int {
	return w.cmd.Process.Pid
}

func (w *WorkerInstance) StartedAt() time.Time {
	return w.startedAt
}

// Status derives the lifecycle state. Dead is terminal; Stopping shadows the
// startup promotion; Starting becomes Started once the startup delay has
// elapsed with the process still alive.
func (w *WorkerInstance) Status() protocol.WorkerStatus {
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

func (w *WorkerInstance) StopGraceful() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exit != nil || !w.stopAt.IsZero() {
		return
	}

	w.stopAt = time.Now()
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// the process may have exited between the check and the signal
		logrus.Debugf("worker %s: graceful stop signal: %s", w.id, err)
	}
}

func (w *WorkerInstance) StoppingSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopAt
}

func (w *WorkerInstance) KillForced() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exit != nil || w.forceKilled {
		return
	}

	w.forceKilled = true
	if err := w.cmd.Process.Kill(); err != nil {
		logrus.Debugf("worker %s: force kill: %s", w.id, err)
	}
}

func (w *WorkerInstance) PollExit() *ExitInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exit
}

var randPool = &sync.Pool{
	New: func() interface{} {
		return rand.NewSource(time.Now().UnixNano())
	},
}

// NewULID returns a new ULID, which is a lexically sortable UUID.
func NewULID() ulid.ULID {
	entropy := randPool.Get().(rand.Source)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(entropy))
	randPool.Put(entropy)

	return id
}
