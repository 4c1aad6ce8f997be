package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workerherd/herdd/daemon/protocol"
)

func newTestControl(t *testing.T) (*httptest.Server, *Daemon) {
	t.Helper()

	d, _ := newTestDaemon(t, testConfig(), &scriptProbe{depths: []int64{3}})
	require.NoError(t, d.Start(2))

	srv := httptest.NewServer(NewControlServer(d).Handler())
	t.Cleanup(func() {
		srv.Close()
		d.Stop()
	})
	return srv, d
}

func postJSON(t *testing.T, url string, in, out interface{}) *http.Response {
	t.Helper()

	body := &bytes.Buffer{}
	if in != nil {
		require.NoError(t, json.NewEncoder(body).Encode(in))
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestControlStatus(t *testing.T) {
	require := require.New(t)

	srv, _ := newTestControl(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var r protocol.StatusResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&r))
	require.Equal("running", r.State)
	require.Equal(int64(3), r.Depth)
	require.Equal(2, r.Fleet.Total)
	require.Len(r.Workers, 2)
}

func TestControlScaleUp(t *testing.T) {
	require := require.New(t)

	srv, d := newTestControl(t)

	var r protocol.ScaleResponse
	resp := postJSON(t, srv.URL+"/scale-up", &protocol.ScaleRequest{Instances: 2}, &r)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(2, r.Actual)
	require.Equal(4, r.Total)
	require.Equal(4, d.Fleet().Total())
}

func TestControlScaleUp_ClampReported(t *testing.T) {
	require := require.New(t)

	srv, _ := newTestControl(t)

	var r protocol.ScaleResponse
	resp := postJSON(t, srv.URL+"/scale-up", &protocol.ScaleRequest{Instances: 100}, &r)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(100, r.Requested)
	require.Equal(3, r.Actual) // 2 were already running, max is 5
	require.Equal(5, r.Total)
}

func TestControlScaleDown(t *testing.T) {
	require := require.New(t)

	srv, d := newTestControl(t)

	var r protocol.ScaleResponse
	resp := postJSON(t, srv.URL+"/scale-down", &protocol.ScaleRequest{Instances: 1}, &r)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(1, r.Actual)
	require.Equal(1, d.Fleet().Total())
}

func TestControlScale_Invalid(t *testing.T) {
	require := require.New(t)

	srv, d := newTestControl(t)

	var r protocol.ScaleResponse
	resp := postJSON(t, srv.URL+"/scale-up", &protocol.ScaleRequest{Instances: 0}, &r)
	require.Equal(http.StatusBadRequest, resp.StatusCode)
	require.NotEmpty(r.Errors)
	require.Equal(2, d.Fleet().Total())
}

func TestControlStop(t *testing.T) {
	require := require.New(t)

	srv, d := newTestControl(t)

	var r protocol.StopResponse
	resp := postJSON(t, srv.URL+"/stop", nil, &r)
	require.Equal(http.StatusAccepted, resp.StatusCode)
	require.Equal("draining", r.State)

	require.Eventually(func() bool {
		return d.State() == protocol.Stopped
	}, 5*time.Second, 20*time.Millisecond)
}

func TestControlMetrics(t *testing.T) {
	require := require.New(t)

	srv, _ := newTestControl(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
}
