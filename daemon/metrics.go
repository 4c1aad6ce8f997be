package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fleet metrics
var (
	workersSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herdd_worker_spawn_total",
		Help: "The total number of worker spawn attempts",
	})
	workerSpawnErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herdd_worker_spawn_errors",
		Help: "The total number of failed worker spawn attempts",
	})
	workersKilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herdd_worker_kill_total",
		Help: "The total number of workers force-killed after the graceful window",
	})
	workersExitedUnexpected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herdd_worker_unexpected_exits",
		Help: "The total number of workers that died without a stop request",
	})

	fleetTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herdd_fleet_total",
		Help: "The number of live workers in the fleet",
	})
	fleetStarting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herdd_fleet_starting",
		Help: "The number of workers inside the startup delay",
	})
)

// Scaling metrics
var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herdd_queue_depth",
		Help: "The queue depth observed by the last successful probe",
	})
	probeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herdd_probe_failures",
		Help: "The total number of failed queue depth probes",
	})
	scaleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herdd_scale_decisions",
		Help: "The total number of autoscaler decisions by outcome",
	}, []string{"action"})

	scaleDecisionsGrow   = scaleDecisions.WithLabelValues("grow")
	scaleDecisionsShrink = scaleDecisions.WithLabelValues("shrink")
	scaleDecisionsHold   = scaleDecisions.WithLabelValues("hold")
	scaleDecisionsSkip   = scaleDecisions.WithLabelValues("skip")
)
