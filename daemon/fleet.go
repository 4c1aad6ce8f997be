package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/daemon/protocol"
)

// Fleet is the set of live workers. It enforces the min/max bounds, grows
// and shrinks atomically under concurrent requests from the autoscaler and
// the control surface, and reaps children the OS reported as exited.
//
// Two locks are involved: opMu serializes the mutating operations (Grow,
// Shrink, EnsureMin, StopAll) so interleaved operator and automatic commands
// compose sequentially; mu guards the membership slice and is never held
// across a spawn system call. Spawn happens unlocked, the handle is
// committed into the set afterwards. Stop signals are delivered while
// holding mu, signal delivery does not block.
type Fleet struct {
	factory         FactoryFunction
	min, max        int
	gracefulTimeout time.Duration
	logger          *logrus.Entry

	opMu sync.Mutex

	mu       sync.Mutex
	workers  []Worker // oldest first
	draining bool

	unexpected int // workers that died without a stop request
}

// NewFleet creates an empty fleet. Workers are spawned through the given
// factory; bounds and the graceful timeout come from the validated config.
func NewFleet(factory FactoryFunction, min, max int, gracefulTimeout time.Duration) *Fleet {
	return &Fleet{
		factory:         factory,
		min:             min,
		max:             max,
		gracefulTimeout: gracefulTimeout,
		logger:          logrus.WithField("subsystem", "fleet"),
	}
}

// Size reports the fleet as of the call, after reaping.
func (f *Fleet) Size() (starting, running, total int) {
	f.Reap()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		switch w.Status() {
		case protocol.Starting:
			starting++
		case protocol.Started:
			running++
		}
	}
	return starting, running, len(f.workers)
}

// Total is the number of live workers, Starting and Stopping included.
func (f *Fleet) Total() int {
	_, _, total := f.Size()
	return total
}

// Grow spawns up to k new workers, clamped so the total never exceeds the
// upper bound. It returns the number actually added, which may be less than
// k (including zero); that is a normal result, not an error. A spawn failure
// aborts the remaining grows of this call without rolling back the workers
// already spawned.
func (f *Fleet) Grow(k int) int {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.Reap()
	added := f.grow(k)
	f.ensureMin()
	return added
}

func (f *Fleet) grow(k int) int {
	f.mu.Lock()
	if f.draining {
		f.mu.Unlock()
		return 0
	}
	if allowed := f.max - len(f.workers); k > allowed {
		k = allowed
	}
	f.mu.Unlock()

	added := 0
	for i := 0; i < k; i++ {
		workersSpawned.Inc()
		w, err := f.factory()
		if err != nil {
			workerSpawnErrors.Inc()
			f.logger.Errorf("failed to spawn worker: %s", err)
			break
		}

		f.mu.Lock()
		if f.draining {
			// StopAll won the race; do not leak the child
			w.StopGraceful()
			f.mu.Unlock()
			break
		}
		f.workers = append(f.workers, w)
		f.mu.Unlock()

		f.logger.Infof("worker %s spawned (pid %d)", w.ID(), w.PID())
		added++
	}

	f.updateGauges()
	return added
}

// Shrink requests a graceful stop of up to k of the oldest running workers,
// clamped so the total never drops below the lower bound. Workers still in
// the startup delay are not eligible. It returns as soon as the stops were
// requested; the actual removal happens through reaping once the processes
// exit.
func (f *Fleet) Shrink(k int) int {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.Reap()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.draining {
		return 0
	}
	if allowed := len(f.workers) - f.min; k > allowed {
		k = allowed
	}
	if k <= 0 {
		return 0
	}

	// oldest first, ties by lower pid
	candidates := make([]Worker, 0, len(f.workers))
	for _, w := range f.workers {
		if w.Status() == protocol.Started {
			candidates = append(candidates, w)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i].StartedAt(), candidates[j].StartedAt()
		if ti.Equal(tj) {
			return candidates[i].PID() < candidates[j].PID()
		}
		return ti.Before(tj)
	})

	removed := 0
	for _, w := range candidates {
		if removed == k {
			break
		}
		w.StopGraceful()
		f.logger.Infof("worker %s stopping (pid %d)", w.ID(), w.PID())
		removed++
	}
	return removed
}

// EnsureMin restores the lower bound, spawning as many workers as needed.
// This is the only unconditional replace-on-death path.
func (f *Fleet) EnsureMin() int {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.Reap()
	return f.ensureMin()
}

func (f *Fleet) ensureMin() int {
	f.mu.Lock()
	missing := f.min - len(f.workers)
	draining := f.draining
	f.mu.Unlock()

	if draining || missing <= 0 {
		return 0
	}

	f.logger.Warningf("fleet below minimum, spawning %d workers", missing)
	return f.grow(missing)
}

// Reap polls every worker for exit, removes the dead ones, and force-kills
// the workers whose graceful window elapsed. Unexpected deaths are logged at
// warning level and counted, but not replaced here.
func (f *Fleet) Reap() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapLocked()
}

func (f *Fleet) reapLocked() {
	now := time.Now()
	live := f.workers[:0]
	for _, w := range f.workers {
		exit := w.PollExit()
		if exit == nil {
			if at := w.StoppingSince(); !at.IsZero() && now.Sub(at) > f.gracefulTimeout {
				workersKilled.Inc()
				f.logger.Warningf("worker %s did not exit within %s, force killing (pid %d)",
					w.ID(), f.gracefulTimeout, w.PID())
				w.KillForced()
			}
			live = append(live, w)
			continue
		}

		if w.StoppingSince().IsZero() {
			f.unexpected++
			workersExitedUnexpected.Inc()
			f.logger.Warningf("worker %s exited unexpectedly (pid %d, code %d, signaled %v)",
				w.ID(), w.PID(), exit.Code, exit.Signaled)
		} else {
			f.logger.Infof("worker %s exited (pid %d, code %d)", w.ID(), w.PID(), exit.Code)
		}
	}
	// drop the reaped tail so the handles can be collected
	for i := len(live); i < len(f.workers); i++ {
		f.workers[i] = nil
	}
	f.workers = live

	f.updateGaugesLocked()
}

// StopAll requests a graceful stop for every live worker, waits up to the
// graceful timeout, force-kills the survivors, and blocks until every
// handle is dead. After StopAll the fleet refuses further mutations.
func (f *Fleet) StopAll() {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.mu.Lock()
	f.draining = true
	workers := make([]Worker, len(f.workers))
	copy(workers, f.workers)
	for _, w := range workers {
		w.StopGraceful()
	}
	f.mu.Unlock()

	if len(workers) == 0 {
		return
	}

	f.logger.Infof("stopping %d workers", len(workers))

	deadline := time.Now().Add(f.gracefulTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if f.allDead(workers) {
			break
		}
		if time.Now().After(deadline) {
			for _, w := range workers {
				if w.PollExit() == nil {
					workersKilled.Inc()
					f.logger.Warningf("worker %s did not exit within %s, force killing (pid %d)",
						w.ID(), f.gracefulTimeout, w.PID())
					w.KillForced()
				}
			}
			deadline = time.Now().Add(f.gracefulTimeout)
		}
		<-ticker.C
	}

	f.Reap()
	f.logger.Infof("all workers stopped")
}

func (f *Fleet) allDead(workers []Worker) bool {
	for _, w := range workers {
		if w.PollExit() == nil {
			return false
		}
	}
	return true
}

// Snapshot returns a consistent view of the fleet, oldest first.
func (f *Fleet) Snapshot() []protocol.WorkerState {
	f.Reap()

	f.mu.Lock()
	defer f.mu.Unlock()

	states := make([]protocol.WorkerState, 0, len(f.workers))
	for _, w := range f.workers {
		states = append(states, protocol.WorkerState{
			ID:        w.ID(),
			PID:       w.PID(),
			Status:    w.Status().String(),
			StartedAt: w.StartedAt(),
		})
	}
	return states
}

// UnexpectedExits is the number of workers that died without a stop request
// since the fleet was created.
func (f *Fleet) UnexpectedExits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unexpected
}

func (f *Fleet) updateGauges() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateGaugesLocked()
}

func (f *Fleet) updateGaugesLocked() {
	starting := 0
	for _, w := range f.workers {
		if w.Status() == protocol.Starting {
			starting++
		}
	}
	fleetTotal.Set(float64(len(f.workers)))
	fleetStarting.Set(float64(starting))
}
