package daemon

import (
	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrInvalidConfig indicates a configuration invariant violation, which
	// is fatal at startup. It also rejects operator scale requests for fewer
	// than one instance.
	ErrInvalidConfig = errors.NewKind("invalid configuration: %s")
	// ErrSpawn indicates the OS rejected a worker launch.
	ErrSpawn = errors.NewKind("cannot spawn worker: %s")
	// ErrDaemonStopped is returned by operations issued after the daemon
	// started draining.
	ErrDaemonStopped = errors.NewKind("daemon already stopped")
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.NewKind("daemon already running")
)
