package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workerherd/herdd/daemon/protocol"
)

func newTestDaemon(t *testing.T, conf *Config, probe *scriptProbe) (*Daemon, *mockFleetFactory) {
	t.Helper()

	d, err := NewDaemon("test", conf, probe)
	require.NoError(t, err)

	factory := newMockFleetFactory()
	d.Factory = factory.factory
	return d, factory
}

func TestDaemonNew_InvalidConfig(t *testing.T) {
	require := require.New(t)

	conf := testConfig()
	conf.MinProcesses = 4
	conf.MaxProcesses = 2

	_, err := NewDaemon("test", conf, &scriptProbe{})
	require.True(ErrInvalidConfig.Is(err), "%v", err)
}

func TestDaemonStart_InitialFleet(t *testing.T) {
	require := require.New(t)

	conf := testConfig()
	conf.MinProcesses = 2

	d, _ := newTestDaemon(t, conf, &scriptProbe{depths: []int64{0}})

	require.NoError(d.Start(0))
	defer d.Stop()

	require.Equal(protocol.Running, d.State())
	require.Equal(2, d.Fleet().Total())
}

func TestDaemonStart_InitialClamped(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})

	require.NoError(d.Start(100))
	defer d.Stop()

	// max is 5
	require.Equal(5, d.Fleet().Total())
}

func TestDaemonStart_Twice(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})

	require.NoError(d.Start(0))
	defer d.Stop()

	err := d.Start(0)
	require.True(ErrAlreadyRunning.Is(err), "%v", err)
}

func TestDaemonStop_Lifecycle(t *testing.T) {
	require := require.New(t)

	d, factory := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})

	require.NoError(d.Start(3))
	require.NoError(d.Stop())
	require.Equal(protocol.Stopped, d.State())

	for i := 0; i < factory.count(); i++ {
		require.Equal(protocol.Dead, factory.worker(i).Status())
	}

	// Wait returns immediately once stopped
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestDaemonStop_AfterStoppedRejected(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})
	require.NoError(d.Start(1))

	require.NoError(d.Stop())
	err := d.Stop()
	require.True(ErrDaemonStopped.Is(err), "%v", err)
}

func TestDaemonScale_Operator(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})
	require.NoError(d.Start(1))
	defer d.Stop()

	added, err := d.ScaleUp(2)
	require.NoError(err)
	require.Equal(2, added)
	require.Equal(3, d.Fleet().Total())

	removed, err := d.ScaleDown(1)
	require.NoError(err)
	require.Equal(1, removed)
	require.Equal(2, d.Fleet().Total())
}

func TestDaemonScale_Validation(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})
	require.NoError(d.Start(1))
	defer d.Stop()

	_, err := d.ScaleUp(0)
	require.True(ErrInvalidConfig.Is(err), "%v", err)
	_, err = d.ScaleDown(-3)
	require.True(ErrInvalidConfig.Is(err), "%v", err)
	require.Equal(1, d.Fleet().Total())
}

func TestDaemonScale_RejectedWhileDraining(t *testing.T) {
	require := require.New(t)

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{0}})
	require.NoError(d.Start(1))
	require.NoError(d.Stop())

	_, err := d.ScaleUp(1)
	require.True(ErrDaemonStopped.Is(err), "%v", err)
	_, err = d.ScaleDown(1)
	require.True(ErrDaemonStopped.Is(err), "%v", err)
}

func TestDaemonStatus(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	conf := testConfig()
	d, _ := newTestDaemon(t, conf, &scriptProbe{depths: []int64{42}})
	require.NoError(d.Start(2))
	defer d.Stop()

	r := d.Status(context.Background())
	assert.Equal("running", r.State)
	assert.Equal("tasks", r.Queue)
	assert.Equal(int64(42), r.Depth)
	assert.Equal(2, r.Fleet.Total)
	assert.Equal(1, r.Fleet.Min)
	assert.Equal(5, r.Fleet.Max)
	assert.Equal(float64(2)*conf.ScaleUpMultiplier, r.Fleet.ScaleUpAt)
	require.Len(r.Workers, 2)
	assert.Empty(r.Errors)
}

func TestDaemonStatus_ProbeFailure(t *testing.T) {
	require := require.New(t)

	probe := &scriptProbe{depths: []int64{0}, errs: []error{
		context.DeadlineExceeded,
	}}

	d, _ := newTestDaemon(t, testConfig(), probe)
	require.NoError(d.Start(1))
	defer d.Stop()

	r := d.Status(context.Background())
	require.Equal(int64(-1), r.Depth)
	require.NotEmpty(r.Errors)
}

func TestDaemonInvariant_BoundsWhileRunning(t *testing.T) {
	require := require.New(t)

	conf := testConfig()
	conf.CheckInterval = 50 * time.Millisecond

	d, _ := newTestDaemon(t, conf, &scriptProbe{depths: []int64{1000}})
	require.NoError(d.Start(1))
	defer d.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		total := d.Fleet().Total()
		require.GreaterOrEqual(total, 1)
		require.LessOrEqual(total, conf.MaxProcesses)
		time.Sleep(10 * time.Millisecond)
	}
}
