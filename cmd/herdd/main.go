package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/workerherd/herdd/broker"
	"github.com/workerherd/herdd/daemon"
)

var (
	version = "undefined"
	build   = "undefined"

	queueName     *string
	workerCommand *string
	minProcesses  *int
	maxProcesses  *int
	initial       *int
	strict        *bool

	checkInterval       *float64
	gracefulTimeout     *float64
	startupDelay        *float64
	scaleUpMultiplier   *float64
	scaleDownMultiplier *float64

	redis struct {
		host     *string
		port     *int
		db       *int
		password *string
	}
	ctl struct {
		network *string
		address *string
	}
	log struct {
		level  *string
		format *string
		file   *string
	}
)

func init() {
	cmd := flag.NewFlagSet("herdd", flag.ExitOnError)
	queueName = cmd.String("queue", daemon.EnvString("QUEUE_NAME", ""), "name of the queue to observe.")
	workerCommand = cmd.String("worker-command", daemon.EnvString("WORKER_COMMAND", ""), "command line launched per worker.")
	minProcesses = cmd.Int("min", daemon.DefaultMinProcesses, "minimum number of worker processes.")
	maxProcesses = cmd.Int("max", daemon.DefaultMaxProcesses, "maximum number of worker processes.")
	initial = cmd.Int("initial", 0, "initial fleet size, defaults to the minimum; clamped to the bounds.")
	strict = cmd.Bool("strict", false, "refuse to start when the broker is unreachable.")

	checkInterval = cmd.Float64("interval", daemon.DefaultCheckInterval.Seconds(), "seconds between automatic scaling ticks.")
	gracefulTimeout = cmd.Float64("graceful-timeout", daemon.DefaultGracefulShutdownTimeout.Seconds(), "seconds a worker has to exit after a graceful stop before it is killed.")
	startupDelay = cmd.Float64("startup-delay", daemon.DefaultProcessStartupDelay.Seconds(), "seconds before a new worker counts as running.")
	scaleUpMultiplier = cmd.Float64("scale-up-multiplier", daemon.DefaultScaleUpMultiplier, "queue depth per worker above which the fleet grows.")
	scaleDownMultiplier = cmd.Float64("scale-down-multiplier", daemon.DefaultScaleDownMultiplier, "queue depth per worker below which the fleet shrinks.")

	redis.host = cmd.String("redis-host", daemon.EnvString("REDIS_HOST", "localhost"), "redis host.")
	redis.port = cmd.Int("redis-port", envInt("REDIS_PORT", 6379), "redis port.")
	redis.db = cmd.Int("redis-db", envInt("REDIS_DB", 0), "redis database index.")
	redis.password = cmd.String("redis-password", daemon.EnvString("REDIS_PASSWORD", ""), "redis password.")

	ctl.network = cmd.String("ctl-network", "unix", "control server network type: tcp, tcp4, tcp6, unix or unixpacket.")
	ctl.address = cmd.String("ctl-address", "/var/run/herdctl.sock", "control server address to listen.")

	log.level = cmd.String("log-level", daemon.EnvString("LOG_LEVEL", "info"), "log level: panic, fatal, error, warning, info, debug.")
	log.format = cmd.String("log-format", "text", "format of the logs: text or json.")
	log.file = cmd.String("log-file", daemon.EnvString("LOG_FILE", ""), "write logs to the given file instead of stderr.")
	cmd.Parse(os.Args[1:])

	buildLogger()
}

func main() {
	logrus.Infof("herdd version: %s (build: %s)", version, build)

	conf := buildConfig()
	probe := broker.NewRedisProbe(broker.RedisOptions{
		Addr:     fmt.Sprintf("%s:%d", *redis.host, *redis.port),
		DB:       *redis.db,
		Password: *redis.password,
		Timeout:  conf.ProbeTimeout(),
	})
	defer probe.Close()

	if *strict {
		if err := probe.Ping(context.Background()); err != nil {
			logrus.Errorf("broker unreachable: %s", err)
			os.Exit(2)
		}
	}

	d, err := daemon.NewDaemon(version, conf, probe)
	if err != nil {
		logrus.Errorf("error creating daemon: %s", err)
		os.Exit(1)
	}
	if err := d.Start(*initial); err != nil {
		logrus.Errorf("error starting daemon: %s", err)
		os.Exit(1)
	}

	ctlServer := daemon.NewControlServer(d)
	listener := listenControl()
	go func() {
		if err := ctlServer.Serve(listener); err != nil {
			logrus.Errorf("error on control server: %s", err)
		}
	}()

	handleGracefullyShutdown(d)
	d.Wait()

	if err := ctlServer.Close(); err != nil {
		logrus.Errorf("error closing control listener: %s", err)
	}
}

func listenControl() net.Listener {
	if *ctl.network == "unix" {
		// a previous unclean exit may have left the socket behind
		os.Remove(*ctl.address)
	}

	l, err := net.Listen(*ctl.network, *ctl.address)
	if err != nil {
		logrus.Errorf("error creating control listener: %s", err)
		os.Exit(1)
	}

	allowAnyoneInUnixSocket(*ctl.network, *ctl.address)
	logrus.Infof("control server listening in %s (%s)", *ctl.address, *ctl.network)
	return l
}

func allowAnyoneInUnixSocket(network, address string) {
	if network != "unix" {
		return
	}

	if err := os.Chmod(address, 0777); err != nil {
		logrus.Errorf("error changing permissions to socket %q: %s", address, err)
		os.Exit(1)
	}
}

func buildConfig() *daemon.Config {
	conf := &daemon.Config{
		QueueName:               *queueName,
		WorkerCommand:           daemon.SplitCommand(*workerCommand),
		MinProcesses:            *minProcesses,
		MaxProcesses:            *maxProcesses,
		CheckInterval:           seconds(*checkInterval),
		ScaleUpMultiplier:       *scaleUpMultiplier,
		ScaleDownMultiplier:     *scaleDownMultiplier,
		GracefulShutdownTimeout: seconds(*gracefulTimeout),
		ProcessStartupDelay:     seconds(*startupDelay),
	}

	if err := conf.Validate(); err != nil {
		logrus.Errorf("%s", err)
		os.Exit(1)
	}
	return conf
}

func buildLogger() {
	level, err := logrus.ParseLevel(*log.level)
	if err != nil {
		logrus.Errorf("invalid logger configuration: %s", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	switch *log.format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.Errorf("invalid logger configuration: unknown format %q", *log.format)
		os.Exit(1)
	}

	if *log.file != "" {
		f, err := os.OpenFile(*log.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logrus.Errorf("invalid logger configuration: %s", err)
			os.Exit(1)
		}
		logrus.SetOutput(f)
	}
}

func handleGracefullyShutdown(d *daemon.Daemon) {
	var gracefulStop = make(chan os.Signal, 1)
	signal.Notify(gracefulStop, syscall.SIGTERM)
	signal.Notify(gracefulStop, syscall.SIGINT)
	go waitForStop(gracefulStop, d)
}

func waitForStop(ch <-chan os.Signal, d *daemon.Daemon) {
	for sig := range ch {
		logrus.Warningf("signal received %+v", sig)
		go func() {
			if err := d.Stop(); err != nil {
				logrus.Errorf("error stopping daemon: %s", err)
			}
		}()
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func envInt(env string, def int) int {
	s := os.Getenv(env)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		logrus.Errorf("invalid value %q for %s: %s", s, env, err)
		os.Exit(1)
	}
	return v
}
