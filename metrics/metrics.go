// Package metrics exposes the node's Prometheus counters and histograms:
// fast-path attempts, slow-path attempts, recoveries, frontier
// allocations, and per-operation latency, all registered once per node
// context against its own registry. Round durations are tracked with
// metric.Averager so dashboards get a windowed mean without a second
// histogram per path.
package metrics

import (
	"fmt"

	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collectors one node registers and updates as it
// serves requests.
type Metrics struct {
	Registry prometheus.Registerer

	FastPathAttempts *prometheus.CounterVec
	SlowPathAttempts *prometheus.CounterVec
	Recoveries       prometheus.Counter
	FrontierAllocs   prometheus.Counter
	OutOfSpace       prometheus.Counter
	OperationLatency *prometheus.HistogramVec
	FastPathDuration metric.Averager
	SlowPathDuration metric.Averager
}

// New builds and registers a Metrics against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Registry: reg,
		FastPathAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raa_fast_path_attempts_total",
			Help: "Fast-path consensus attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		SlowPathAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raa_slow_path_attempts_total",
			Help: "Slow-path (classic Paxos) consensus attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raa_llsc_recoveries_total",
			Help: "LL/SC coordinated recovery rounds completed.",
		}),
		FrontierAllocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raa_frontier_allocations_total",
			Help: "Slot numbers handed out by the frontier allocator.",
		}),
		OutOfSpace: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raa_frontier_out_of_space_total",
			Help: "FetchAndAdd calls that failed because the slot space was exhausted.",
		}),
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raa_operation_latency_seconds",
			Help:    "End-to-end latency of a completed client operation.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"operation"}),
	}

	fastDur, err := metric.NewAverager(
		"raa_fast_path_duration",
		"time (in ns) a fast-path round took to complete",
		reg,
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: register fast-path duration: %w", err)
	}
	m.FastPathDuration = fastDur

	slowDur, err := metric.NewAverager(
		"raa_slow_path_duration",
		"time (in ns) a slow-path round took to complete",
		reg,
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: register slow-path duration: %w", err)
	}
	m.SlowPathDuration = slowDur

	if err := reg.Register(m.FastPathAttempts); err != nil {
		return nil, fmt.Errorf("metrics: register fast-path attempts: %w", err)
	}
	if err := reg.Register(m.SlowPathAttempts); err != nil {
		return nil, fmt.Errorf("metrics: register slow-path attempts: %w", err)
	}
	if err := reg.Register(m.Recoveries); err != nil {
		return nil, fmt.Errorf("metrics: register recoveries: %w", err)
	}
	if err := reg.Register(m.FrontierAllocs); err != nil {
		return nil, fmt.Errorf("metrics: register frontier allocations: %w", err)
	}
	if err := reg.Register(m.OutOfSpace); err != nil {
		return nil, fmt.Errorf("metrics: register out-of-space: %w", err)
	}
	if err := reg.Register(m.OperationLatency); err != nil {
		return nil, fmt.Errorf("metrics: register operation latency: %w", err)
	}
	return m, nil
}
