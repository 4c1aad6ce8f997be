package broker

import (
	"context"

	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrUnreachable is returned when the broker cannot be contacted at all.
	ErrUnreachable = errors.NewKind("broker unreachable: %s")
	// ErrTimeout is returned when the broker did not answer within the
	// probe timeout.
	ErrTimeout = errors.NewKind("broker timeout: %s")
	// ErrMalformedResponse is returned when the broker answered with
	// something that is not a queue length.
	ErrMalformedResponse = errors.NewKind("malformed broker response: %s")
)

// Probe observes the length of a queue on the broker. A Probe failure is
// always tick-local: callers skip the current decision and try again on the
// next interval.
type Probe interface {
	// Depth returns the number of queued, not-yet-claimed messages in the
	// given queue at this instant. The result is non-negative.
	Depth(ctx context.Context, queue string) (int64, error)
	// Ping verifies the broker is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connections.
	Close() error
}
