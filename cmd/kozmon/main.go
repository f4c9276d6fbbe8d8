// kozmon samples a range of KOZ ADC channels into memory until the buffer
// fills or it is interrupted, then prints every sample on stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/knadh/koanf"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/acquire"
	"github.com/nasa-jpl/kozdaq/clock"
	"github.com/nasa-jpl/kozdaq/config"
	"github.com/nasa-jpl/kozdaq/export"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/logging"
	"github.com/nasa-jpl/kozdaq/rig"
	"github.com/nasa-jpl/kozdaq/server"
	"github.com/nasa-jpl/kozdaq/telemetry"
	"github.com/nasa-jpl/kozdaq/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "kozmon.yml"
	k              = koanf.New(".")
)

const envPrefix = "KOZMON_"

func setupconfig() {
	if err := config.Load(k, config.DefaultMonitor(), ConfigFileName, envPrefix); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `kozmon samples KOZ ADC channels over CAN into a fixed size buffer.
Sampling stops when the buffer is full or on SIGINT/SIGTERM, then every
sample is printed on stdout as "channel<TAB>voltage<TAB>time".

Usage:
	kozmon <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `kozmon is amenable to configuration via kozmon.yml in the working directory
and via environment variables prefixed KOZMON_.  Nested keys are joined with a
double underscore, e.g. KOZMON_NODE__INTERFACE=vcan0.

node.transport is one of "socketcan" (Linux, interface e.g. can0),
"slcan" (serial adapter, interface e.g. /dev/ttyACM0, with node.baud and
node.bitrate) or "sim" (built-in simulated device).

period is one of 100us, 1ms, 10ms, 100ms.

channelbegin and channelend are inclusive.  capacity is the buffer size in
samples.  If fits is set, the samples are also written to that file as a 3xN
image.

runtime.realtime runs the listen loop at SCHED_FIFO runtime.priority, which
needs CAP_SYS_NICE.  runtime.statusaddr, e.g. ":8000", serves /status and
/metrics while sampling.

Exit codes: 1 the CAN node could not be opened, 2 the device could not be set
up or failed while sampling.`
	fmt.Println(str)
}

func load() config.Monitor {
	c := config.Monitor{}
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
	fmt.Printf("kozmon version %v\n", Version)
}

// spin shows progress on stderr until the returned func is called
func spin(progress func() int64, capacity int) (func(), error) {
	sp, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		Writer:        os.Stderr,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " sampling ",
		StopCharacter: "✓",
		StopMessage:   "buffer closed",
	})
	if err != nil {
		return nil, err
	}
	if err := sp.Start(); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(250 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				sp.Message(fmt.Sprintf("%d/%d", progress(), capacity))
			}
		}
	}()
	return func() {
		close(done)
		sp.Stop()
	}, nil
}

type status struct {
	Samples  int64   `json:"samples"`
	Capacity int     `json:"capacity"`
	Elapsed  float64 `json:"elapsed"`
	Stopping bool    `json:"stopping"`
}

func writeFITS(path string, acq *acquire.Acquisition, c config.Monitor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return export.WriteFITS(f, acq.Buffer.Drain(),
		fitsio.Card{Name: "ADDRESS", Value: c.Address, Comment: "KOZ device address"},
		fitsio.Card{Name: "CHANNELS", Value: util.IntSliceToCSV(util.ArangeInt(c.ChannelBegin, c.ChannelEnd+1))},
		fitsio.Card{Name: "PERIOD", Value: c.Period, Comment: "ADC sampling period"},
		fitsio.Card{Name: "MODE", Value: c.Mode},
		fitsio.Card{Name: "NSAMPLES", Value: acq.Buffer.Len()},
		fitsio.Card{Name: "ELAPSED", Value: acq.Tracker.Accumulated(), Comment: "s"},
	)
}

func run() int {
	c := load()
	if err := c.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	prop, err := c.Prop()
	if err != nil {
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
		logger.Info("[kozmon] received signal, stopping", zap.Stringer("signal", sig))
		stop.Store(true)
	}()

	node, err := rig.OpenNode(c.Node, logger)
	if err != nil {
		logger.Error("[kozmon] error creating node", zap.Error(err))
		return 1
	}
	dev, err := koz.Setup(node, uint8(c.Address), c.Node.Timeout)
	if err != nil {
		logger.Error("[kozmon] error initializing device", zap.Error(err))
		node.Close()
		return 2
	}

	acq, err := acquire.New(c.Capacity, clock.Real(), &stop)
	if err != nil {
		node.Close()
		logger.Error("[kozmon] allocating buffer", zap.Error(err))
		return 1
	}
	start := time.Now()
	reg := telemetry.NewRegistry()
	metrics := telemetry.NewAcquire(
		func() float64 { return float64(acq.Progress()) },
		func() float64 { return time.Since(start).Seconds() },
		c.Capacity)
	if err := metrics.Register(reg); err != nil {
		logger.Warn("[kozmon] registering metrics", zap.Error(err))
	}
	if c.Runtime.StatusAddr != "" {
		srv := server.New(c.Runtime.StatusAddr, server.RouteTable{
			"status": server.Snapshot(func() interface{} {
				return status{
					Samples:  acq.Progress(),
					Capacity: c.Capacity,
					Elapsed:  time.Since(start).Seconds(),
					Stopping: stop.Load(),
				}
			}),
		}, reg, logger)
		if err := srv.Start(); err != nil {
			logger.Warn("[kozmon] status server not started", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
		}
	}

	var stopSpin func()
	if c.Spinner {
		stopSpin, err = spin(acq.Progress, c.Capacity)
		if err != nil {
			logger.Debug("[kozmon] no spinner", zap.Error(err))
		}
	}
	logger.Info("[kozmon] listening",
		zap.String("channels", util.IntSliceToCSV(util.ArangeInt(c.ChannelBegin, c.ChannelEnd+1))))
	runErr := acq.Run(dev, acquire.Options{Prop: prop, Realtime: c.Runtime.Realtime, Priority: c.Runtime.Priority}, logger)
	if stopSpin != nil {
		stopSpin()
	}
	node.Close()

	if n := dev.Dropped(); n > 0 {
		logger.Warn("[kozmon] discarded bad samples", zap.Int64("dropped", n))
	}
	code := 0
	if runErr != nil {
		logger.Error("[kozmon] sampling failed", zap.Error(runErr))
		code = 2
	}

	fmt.Fprintln(os.Stderr, "extracting data...")
	if err := export.WriteTSV(os.Stdout, acq.Buffer.Drain()); err != nil {
		logger.Error("[kozmon] writing samples", zap.Error(err))
	}
	if c.FITS != "" && acq.Buffer.Len() > 0 {
		if err := writeFITS(c.FITS, acq, c); err != nil {
			logger.Error("[kozmon] writing fits", zap.String("file", c.FITS), zap.Error(err))
		} else {
			logger.Info("[kozmon] wrote fits", zap.String("file", c.FITS))
		}
	}
	fmt.Fprintln(os.Stderr, "exiting...")
	return code
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
