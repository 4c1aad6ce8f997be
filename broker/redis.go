package broker

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultProbeTimeout bounds a single depth observation, retry included.
	DefaultProbeTimeout = 5 * time.Second

	retryInterval = 100 * time.Millisecond
)

// RedisOptions are the connection parameters for a RedisProbe.
type RedisOptions struct {
	Addr     string
	DB       int
	Password string
	// Timeout bounds every Depth call. Zero means DefaultProbeTimeout.
	Timeout time.Duration
}

// RedisProbe reports queue depth using LLEN against a Redis list. The
// underlying client pools and reuses connections across ticks.
type RedisProbe struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisProbe creates a probe connected to the given Redis instance. No
// connection is established until the first command.
func NewRedisProbe(opts RedisOptions) *RedisProbe {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &RedisProbe{
		client: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			DB:           opts.DB,
			Password:     opts.Password,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}),
		timeout: timeout,
	}
}

// Depth returns the current length of the queue. Transient failures are
// retried once within the call; persistent failures surface as one of the
// broker error kinds.
func (p *RedisProbe) Depth(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var depth int64
	op := func() error {
		var err error
		depth, err = p.client.LLen(ctx, queue).Result()
		if err != nil && !isNetError(err) && !errors.Is(err, context.DeadlineExceeded) {
			// a broken answer will not get better on retry
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(retryInterval), 1), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		return 0, classify(err)
	}
	if depth < 0 {
		return 0, ErrMalformedResponse.New("negative queue length")
	}
	return depth, nil
}

// Ping verifies the broker answers at all. Used by the strict startup mode.
func (p *RedisProbe) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Ping(ctx).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the connection pool.
func (p *RedisProbe) Close() error {
	return p.client.Close()
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.New(err)
	case isNetError(err):
		return ErrUnreachable.New(err)
	default:
		return ErrMalformedResponse.New(err)
	}
}

func isNetError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// go-redis wraps dial failures into plain errors in some paths
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}
