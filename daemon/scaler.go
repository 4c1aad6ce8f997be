package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/broker"
)

// Action is the outcome of a scaling decision.
type Action int

const (
	// Hold the depth is inside the dead-band, or a bound blocks the move.
	Hold Action = iota
	// Grow add one worker.
	Grow
	// Shrink remove one worker.
	Shrink
)

func (a Action) String() string {
	switch a {
	case Grow:
		return "grow"
	case Shrink:
		return "shrink"
	}
	return "hold"
}

// Policy decides the next fleet mutation given the observed queue depth and
// the current number of workers.
type Policy interface {
	Decide(depth int64, workers int) Action
}

// Threshold is the production policy: grow while the depth exceeds
// workers*Up, shrink while it is below workers*Down. The gap between the
// two multipliers is a dead-band that prevents oscillation when the depth
// hovers near a threshold.
type Threshold struct {
	Up, Down float64
	Min, Max int
}

func (p Threshold) Decide(depth int64, workers int) Action {
	d := float64(depth)
	switch {
	case d > float64(workers)*p.Up && workers < p.Max:
		return Grow
	case d < float64(workers)*p.Down && workers > p.Min:
		return Shrink
	}
	return Hold
}

// AutoScaler drives the fleet from the observed queue depth. Every tick it
// enforces the lower bound, probes the queue, and applies at most one
// single-step mutation; the single step per interval is what gives the loop
// its hysteresis against sampling noise.
type AutoScaler struct {
	probe        broker.Probe
	fleet        *Fleet
	policy       Policy
	queue        string
	interval     time.Duration
	probeTimeout time.Duration
	logger       *logrus.Entry
}

// NewAutoScaler wires a scaler over the given fleet and probe.
func NewAutoScaler(probe broker.Probe, fleet *Fleet, policy Policy, conf *Config) *AutoScaler {
	return &AutoScaler{
		probe:        probe,
		fleet:        fleet,
		policy:       policy,
		queue:        conf.QueueName,
		interval:     conf.CheckInterval,
		probeTimeout: conf.ProbeTimeout(),
		logger:       logrus.WithField("subsystem", "autoscaler"),
	}
}

// Run executes the loop until the context is cancelled. The shutdown is
// observed on every wake and between the blocking steps of a tick.
func (s *AutoScaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	stop := ctx.Done()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s.tick(ctx)
	}
}

// tick is one iteration: min-enforcement, probe, policy, at most one
// mutation.
func (s *AutoScaler) tick(ctx context.Context) {
	if added := s.fleet.EnsureMin(); added > 0 {
		s.logger.Infof("restored fleet minimum, spawned %d workers", added)
	}

	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	depth, err := s.probe.Depth(pctx, s.queue)
	cancel()
	if err != nil {
		// a failed probe never drives scaling; wait for the next interval
		probeFailures.Inc()
		scaleDecisionsSkip.Inc()
		s.logger.Warningf("queue depth probe failed, skipping tick: %s", err)
		return
	}
	queueDepth.Set(float64(depth))

	if ctx.Err() != nil {
		return
	}

	_, _, total := s.fleet.Size()

	switch s.policy.Decide(depth, total) {
	case Grow:
		scaleDecisionsGrow.Inc()
		added := s.fleet.Grow(1)
		s.logger.Infof("depth %d with %d workers: grow, %d added", depth, total, added)
	case Shrink:
		scaleDecisionsShrink.Inc()
		removed := s.fleet.Shrink(1)
		s.logger.Infof("depth %d with %d workers: shrink, %d stopping", depth, total, removed)
	default:
		scaleDecisionsHold.Inc()
		s.logger.Debugf("depth %d with %d workers: hold", depth, total)
	}
}
