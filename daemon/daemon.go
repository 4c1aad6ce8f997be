package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/broker"
	"github.com/workerherd/herdd/daemon/protocol"
)

// Daemon is the top-level supervisor. It owns the fleet and the autoscaler,
// exposes the control surface, and sequences the orderly shutdown: the
// scaler loop quits first, then the fleet drains.
type Daemon struct {
	// Factory spawns worker instances. Replaceable before Start; defaults
	// to launching the configured worker command.
	Factory FactoryFunction

	version string
	conf    *Config
	probe   broker.Probe
	fleet   *Fleet
	scaler  *AutoScaler
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   protocol.DaemonState
	stopped chan struct{}
}

// NewDaemon creates a supervisor from a validated configuration and a depth
// probe. It refuses to build on any configuration invariant violation.
func NewDaemon(version string, conf *Config, probe broker.Probe) (*Daemon, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		version: version,
		conf:    conf,
		probe:   probe,
		state:   protocol.Initializing,
		stopped: make(chan struct{}),
		logger:  logrus.WithField("subsystem", "daemon"),
	}
	d.Factory = func() (Worker, error) {
		return SpawnWorker(conf.WorkerCommand, conf.ProcessStartupDelay)
	}
	return d, nil
}

// Start spawns the initial fleet and launches the autoscaler and the
// reaper. The initial size defaults to the minimum and is clamped to the
// configured bounds.
func (d *Daemon) Start(initial int) error {
	d.mu.Lock()
	if d.state != protocol.Initializing {
		d.mu.Unlock()
		return ErrAlreadyRunning.New()
	}
	d.state = protocol.Running
	d.mu.Unlock()

	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.fleet = NewFleet(d.Factory,
		d.conf.MinProcesses, d.conf.MaxProcesses, d.conf.GracefulShutdownTimeout)

	d.scaler = NewAutoScaler(d.probe, d.fleet, Threshold{
		Up:   d.conf.ScaleUpMultiplier,
		Down: d.conf.ScaleDownMultiplier,
		Min:  d.conf.MinProcesses,
		Max:  d.conf.MaxProcesses,
	}, d.conf)

	initial = d.conf.ClampInitial(initial)
	d.logger.Infof("starting fleet with %d workers (bounds %d..%d, queue %q)",
		initial, d.conf.MinProcesses, d.conf.MaxProcesses, d.conf.QueueName)
	d.fleet.Grow(initial)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.scaler.Run(d.ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.runReaper(d.ctx)
	}()

	return nil
}

// runReaper polls worker exits between ticks so dead children do not linger
// for a whole interval and graceful timeouts are enforced promptly.
func (d *Daemon) runReaper(ctx context.Context) {
	interval := d.conf.CheckInterval / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stop := ctx.Done()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.fleet.Reap()
		}
	}
}

// State is the current lifecycle state of the daemon.
func (d *Daemon) State() protocol.DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop initiates the orderly shutdown on first call: the autoscaler loop
// quits, then every worker is stopped gracefully (force-killed past the
// timeout). Repeated calls while draining are logged and ignored.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	switch d.state {
	case protocol.Initializing:
		d.state = protocol.Stopped
		d.mu.Unlock()
		close(d.stopped)
		return nil
	case protocol.Draining:
		d.mu.Unlock()
		d.logger.Warningf("stop requested while draining, ignored")
		return nil
	case protocol.Stopped:
		d.mu.Unlock()
		return ErrDaemonStopped.New()
	}
	d.state = protocol.Draining
	d.mu.Unlock()

	d.logger.Infof("draining")
	d.cancel()
	d.wg.Wait()
	d.fleet.StopAll()

	d.mu.Lock()
	d.state = protocol.Stopped
	d.mu.Unlock()
	close(d.stopped)

	d.logger.Infof("stopped")
	return nil
}

// Wait blocks until the daemon has fully stopped.
func (d *Daemon) Wait() {
	<-d.stopped
}

// ScaleUp grows the fleet by k on behalf of the operator, bypassing the
// scaling policy but not the bounds.
func (d *Daemon) ScaleUp(k int) (int, error) {
	if k < 1 {
		return 0, ErrInvalidConfig.New("instances must be >= 1")
	}
	if d.State() != protocol.Running {
		return 0, ErrDaemonStopped.New()
	}
	added := d.fleet.Grow(k)
	d.logger.Infof("operator scale-up %d: %d added", k, added)
	return added, nil
}

// ScaleDown shrinks the fleet by k on behalf of the operator.
func (d *Daemon) ScaleDown(k int) (int, error) {
	if k < 1 {
		return 0, ErrInvalidConfig.New("instances must be >= 1")
	}
	if d.State() != protocol.Running {
		return 0, ErrDaemonStopped.New()
	}
	removed := d.fleet.Shrink(k)
	d.logger.Infof("operator scale-down %d: %d stopping", k, removed)
	return removed, nil
}

// Status assembles the full observable state: a fresh depth observation,
// the fleet counts with the thresholds in effect, and the per-worker list.
func (d *Daemon) Status(ctx context.Context) *protocol.StatusResponse {
	resp := &protocol.StatusResponse{
		Version: d.version,
		State:   d.State().String(),
		Queue:   d.conf.QueueName,
		Depth:   -1,
	}

	pctx, cancel := context.WithTimeout(ctx, d.conf.ProbeTimeout())
	depth, err := d.probe.Depth(pctx, d.conf.QueueName)
	cancel()
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
	} else {
		resp.Depth = depth
	}

	if d.fleet == nil {
		return resp
	}

	starting, running, total := d.fleet.Size()
	resp.Fleet = protocol.FleetState{
		Starting:    starting,
		Running:     running,
		Total:       total,
		Min:         d.conf.MinProcesses,
		Max:         d.conf.MaxProcesses,
		ScaleUpAt:   float64(total) * d.conf.ScaleUpMultiplier,
		ScaleDownAt: float64(total) * d.conf.ScaleDownMultiplier,
	}
	resp.Workers = d.fleet.Snapshot()
	return resp
}

// Fleet exposes the fleet for the control surface and tests.
func (d *Daemon) Fleet() *Fleet {
	return d.fleet
}
