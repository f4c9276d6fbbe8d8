// Package telemetry holds the Prometheus collectors exported by kozmon and
// kozsend.
package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "kozdaq"

// NewRegistry returns a registry carrying the Go runtime and process
// collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// register adds cs to r, tolerating collectors already registered
func register(r prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Acquire describes a running acquisition
type Acquire struct {
	Samples  prometheus.GaugeFunc
	Capacity prometheus.Gauge
	Elapsed  prometheus.GaugeFunc
}

// NewAcquire builds the acquisition collectors.  samples and elapsed are
// polled at scrape time and must be concurrent safe.
func NewAcquire(samples, elapsed func() float64, capacity int) *Acquire {
	a := &Acquire{
		Samples: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "samples",
			Help:      "Samples stored in the buffer.",
		}, samples),
		Capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "capacity",
			Help:      "Buffer capacity in samples.",
		}),
		Elapsed: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquire",
			Name:      "elapsed_seconds",
			Help:      "Wall time since sampling started.",
		}, elapsed),
	}
	a.Capacity.Set(float64(capacity))
	return a
}

// Register adds the collectors to r
func (a *Acquire) Register(r prometheus.Registerer) error {
	return register(r, a.Samples, a.Capacity, a.Elapsed)
}

// Drive describes the DAC drive loop
type Drive struct {
	Iterations  prometheus.Counter
	Overruns    prometheus.Counter
	WriteErrors prometheus.Counter
	Period      prometheus.Histogram
	Parameter   prometheus.Gauge
}

// NewDrive builds the drive loop collectors
func NewDrive() *Drive {
	return &Drive{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "iterations_total",
			Help:      "Completed drive loop iterations.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "overruns_total",
			Help:      "Iterations whose writes took longer than the period.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "write_errors_total",
			Help:      "Failed DAC writes.",
		}),
		Period: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "period_seconds",
			Help:      "Measured duration of each iteration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		Parameter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "parameter",
			Help:      "Current path parameter.",
		}),
	}
}

// Register adds the collectors to r
func (d *Drive) Register(r prometheus.Registerer) error {
	return register(r, d.Iterations, d.Overruns, d.WriteErrors, d.Period, d.Parameter)
}
