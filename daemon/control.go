package daemon

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/daemon/protocol"
)

// ControlServer is the operator-facing HTTP surface of the daemon. It
// serves the status, scale and stop operations plus the prometheus
// metrics, usually on a local unix socket.
type ControlServer struct {
	daemon *Daemon
	server *http.Server
	logger *logrus.Entry
}

// NewControlServer builds the control surface over the given daemon.
func NewControlServer(d *Daemon) *ControlServer {
	gin.SetMode(gin.ReleaseMode)

	c := &ControlServer{
		daemon: d,
		logger: logrus.WithField("subsystem", "control"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/status", c.handleStatus)
	r.POST("/scale-up", c.handleScaleUp)
	r.POST("/scale-down", c.handleScaleDown)
	r.POST("/stop", c.handleStop)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	c.server = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return c
}

// Handler exposes the routes for tests.
func (c *ControlServer) Handler() http.Handler {
	return c.server.Handler
}

// Serve accepts control connections on the given listener until Close.
func (c *ControlServer) Serve(l net.Listener) error {
	err := c.server.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops accepting control connections.
func (c *ControlServer) Close() error {
	return c.server.Close()
}

func (c *ControlServer) handleStatus(ctx *gin.Context) {
	start := time.Now()
	resp := c.daemon.Status(ctx.Request.Context())
	resp.Elapsed = time.Since(start)
	ctx.JSON(http.StatusOK, resp)
}

func (c *ControlServer) handleScaleUp(ctx *gin.Context) {
	c.handleScale(ctx, c.daemon.ScaleUp)
}

func (c *ControlServer) handleScaleDown(ctx *gin.Context) {
	c.handleScale(ctx, c.daemon.ScaleDown)
}

func (c *ControlServer) handleScale(ctx *gin.Context, mutate func(int) (int, error)) {
	start := time.Now()
	resp := &protocol.ScaleResponse{}

	var req protocol.ScaleRequest
	if err := ctx.BindJSON(&req); err != nil {
		resp.Errors = append(resp.Errors, fmt.Sprintf("unable to read request: %s", err))
		resp.Elapsed = time.Since(start)
		ctx.JSON(http.StatusBadRequest, resp)
		return
	}

	resp.Requested = req.Instances
	actual, err := mutate(req.Instances)
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
		resp.Elapsed = time.Since(start)
		ctx.JSON(toHTTPStatus(err), resp)
		return
	}

	resp.Actual = actual
	resp.Total = c.daemon.Fleet().Total()
	resp.Elapsed = time.Since(start)
	ctx.JSON(http.StatusOK, resp)
}

func (c *ControlServer) handleStop(ctx *gin.Context) {
	start := time.Now()

	// Stop blocks until the fleet is drained; answer first so the client
	// can watch the drain through /status.
	go func() {
		if err := c.daemon.Stop(); err != nil {
			c.logger.Errorf("stop request: %s", err)
		}
	}()

	resp := &protocol.StopResponse{State: protocol.Draining.String()}
	resp.Elapsed = time.Since(start)
	ctx.JSON(http.StatusAccepted, resp)
}

func toHTTPStatus(err error) int {
	switch {
	case ErrInvalidConfig.Is(err):
		return http.StatusBadRequest
	case ErrDaemonStopped.Is(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
