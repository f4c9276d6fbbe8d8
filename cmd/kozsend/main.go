// kozsend traces a spiral on two KOZ DAC channels at a fixed update rate
// until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/clock"
	"github.com/nasa-jpl/kozdaq/config"
	"github.com/nasa-jpl/kozdaq/curve"
	"github.com/nasa-jpl/kozdaq/drive"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/logging"
	"github.com/nasa-jpl/kozdaq/rig"
	"github.com/nasa-jpl/kozdaq/rtprio"
	"github.com/nasa-jpl/kozdaq/server"
	"github.com/nasa-jpl/kozdaq/telemetry"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "kozsend.yml"
	k              = koanf.New(".")
)

const envPrefix = "KOZSEND_"

func setupconfig() {
	if err := config.Load(k, config.DefaultSend(), ConfigFileName, envPrefix); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `kozsend drives two KOZ DAC channels over CAN along a spiral.
The path advances by speed times the measured time of each iteration.

Usage:
	kozsend <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `kozsend is amenable to configuration via kozsend.yml in the working directory
and via environment variables prefixed KOZSEND_.  Nested keys are joined with
a double underscore, e.g. KOZSEND_RUNTIME__REALTIME=false.

channels is the [x, y] DAC channel pair.  period is the loop period, e.g.
10ms; speed is the path parameter rate per second.  The spiral has segments
turns per unit parameter and grows to maxradius volts.

singleperiod stops once the parameter passes 1.  trace prints
"x<TAB>y<TAB>t" on stdout after every DAC write.

runtime.realtime runs the loop at SCHED_FIFO runtime.priority, which needs
CAP_SYS_NICE.  runtime.statusaddr, e.g. ":8001", serves /status and /metrics.

Exit codes: 1 the CAN node could not be opened, 2 the device could not be set
up or a DAC write failed.`
	fmt.Println(str)
}

func load() config.Send {
	c := config.Send{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := load()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := config.Write(f, c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := config.Write(os.Stdout, load()); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("kozsend version %v\n", Version)
}

func run() int {
	c := load()
	if err := c.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := logging.New(c.Runtime.Verbose, c.Runtime.LogFile)
	defer logger.Sync()

	var stop atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("[kozsend] received signal, stopping", zap.Stringer("signal", sig))
		stop.Store(true)
	}()

	node, err := rig.OpenNode(c.Node, logger)
	if err != nil {
		logger.Error("[kozsend] error creating node", zap.Error(err))
		return 1
	}
	dev, err := koz.Setup(node, uint8(c.Address), c.Node.Timeout)
	if err != nil {
		logger.Error("[kozsend] error initializing device", zap.Error(err))
		node.Close()
		return 2
	}

	reg := telemetry.NewRegistry()
	metrics := telemetry.NewDrive()
	if err := metrics.Register(reg); err != nil {
		logger.Warn("[kozsend] registering metrics", zap.Error(err))
	}
	var trace io.Writer
	if c.Trace {
		trace = os.Stdout
	}
	loop := &drive.Loop{
		Path:         curve.New(curve.Spiral(c.MaxRadius, c.Segments)),
		DAC:          dev,
		Clock:        clock.Real(),
		Channels:     [2]int{c.Channels[0], c.Channels[1]},
		Period:       c.Period,
		Speed:        c.Speed,
		SinglePeriod: c.SinglePeriod,
		Trace:        trace,
		Log:          logger,
		Metrics:      metrics,
	}
	if c.SinglePeriod {
		logger.Info("[kozsend] single period", zap.Int64("expectedSteps", drive.ExpectedSteps(c.Speed, c.Period)))
	}
	if c.Runtime.StatusAddr != "" {
		srv := server.New(c.Runtime.StatusAddr, server.RouteTable{
			"status": server.Snapshot(func() interface{} { return loop.Snapshot() }),
		}, reg, logger)
		if err := srv.Start(); err != nil {
			logger.Warn("[kozsend] status server not started", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
		}
	}

	var snap drive.Snapshot
	// the scheduling class is restored when Scope returns, before the node closes
	runErr := rtprio.Scope(c.Runtime.Realtime, c.Runtime.Priority, logger, func() error {
		var err error
		snap, err = loop.Run(&stop)
		return err
	})
	node.Close()
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error dac write")
		logger.Error("[kozsend] drive failed", zap.Error(runErr), zap.Int64("steps", snap.Steps))
		return 2
	}

	fmt.Printf("done in %d steps\n", snap.Steps)
	fmt.Println("exiting...")
	return 0
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		os.Exit(run())
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
