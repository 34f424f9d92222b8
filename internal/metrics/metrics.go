// Package metrics exposes the poller's Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the poller metrics. All methods are safe on a nil
// receiver so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	GateWait        prometheus.Histogram
	AbandonedCalls  prometheus.Gauge

	CycleDuration *prometheus.HistogramVec
	CyclesSkipped *prometheus.CounterVec
	Losses        *prometheus.CounterVec

	OnlineAdapters prometheus.Gauge
	KnownAdapters  prometheus.Gauge
	LinkRate       *prometheus.GaugeVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against one registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	calls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plcmesh_backend_calls_total",
		Help: "Backend calls made through the access scheduler, labeled by operation and outcome.",
	}, []string{"op", "outcome"}), "plcmesh_backend_calls_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plcmesh_backend_call_duration_seconds",
		Help:    "Latency of single backend call attempts.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"op"}), "plcmesh_backend_call_duration_seconds")
	if err != nil {
		return nil, err
	}

	gateWait, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plcmesh_gate_wait_seconds",
		Help:    "Time spent waiting for the exclusive backend gate.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}), "plcmesh_gate_wait_seconds")
	if err != nil {
		return nil, err
	}

	abandoned, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plcmesh_backend_abandoned_calls",
		Help: "Backend call attempts past their timeout that have not returned yet.",
	}), "plcmesh_backend_abandoned_calls")
	if err != nil {
		return nil, err
	}

	cycles, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plcmesh_cycle_duration_seconds",
		Help:    "Duration of presence and stats cycles.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"}), "plcmesh_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plcmesh_cycles_skipped_total",
		Help: "Cycles skipped because the previous cycle of the same kind was still running.",
	}, []string{"kind"}), "plcmesh_cycles_skipped_total")
	if err != nil {
		return nil, err
	}

	losses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plcmesh_presence_losses_total",
		Help: "Adapters missing from a first discovery, labeled by whether the second probe confirmed the loss.",
	}, []string{"result"}), "plcmesh_presence_losses_total")
	if err != nil {
		return nil, err
	}

	online, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plcmesh_adapters_online",
		Help: "Adapters in the current online set.",
	}), "plcmesh_adapters_online")
	if err != nil {
		return nil, err
	}

	known, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plcmesh_adapters_known",
		Help: "Adapters with an assigned index.",
	}), "plcmesh_adapters_known")
	if err != nil {
		return nil, err
	}

	rates, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plcmesh_link_rate_mbps",
		Help: "Last reported PHY rate of a directed link.",
	}, []string{"source", "target", "direction"}), "plcmesh_link_rate_mbps")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		BackendCalls:    calls,
		BackendDuration: durations,
		GateWait:        gateWait,
		AbandonedCalls:  abandoned,
		CycleDuration:   cycles,
		CyclesSkipped:   skipped,
		Losses:          losses,
		OnlineAdapters:  online,
		KnownAdapters:   known,
		LinkRate:        rates,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCall records one backend call attempt
func (c *Collector) ObserveCall(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.BackendCalls.WithLabelValues(op, outcome).Inc()
	c.BackendDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveGateWait records how long a call waited for the gate
func (c *Collector) ObserveGateWait(d time.Duration) {
	if c == nil {
		return
	}
	c.GateWait.Observe(d.Seconds())
}

// AddAbandoned adjusts the count of abandoned calls still running
func (c *Collector) AddAbandoned(delta int) {
	if c == nil {
		return
	}
	c.AbandonedCalls.Add(float64(delta))
}

// ObserveCycle records a completed cycle
func (c *Collector) ObserveCycle(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.CycleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncCycleSkipped counts a coalesced tick
func (c *Collector) IncCycleSkipped(kind string) {
	if c == nil {
		return
	}
	c.CyclesSkipped.WithLabelValues(kind).Inc()
}

// IncLoss counts a loss candidate; result is "confirmed" or "recovered"
func (c *Collector) IncLoss(result string) {
	if c == nil {
		return
	}
	c.Losses.WithLabelValues(result).Inc()
}

// SetOnline updates the online adapter gauge
func (c *Collector) SetOnline(n int) {
	if c == nil {
		return
	}
	c.OnlineAdapters.Set(float64(n))
}

// SetKnown updates the indexed adapter gauge
func (c *Collector) SetKnown(n int) {
	if c == nil {
		return
	}
	c.KnownAdapters.Set(float64(n))
}

// SetLinkRate publishes both directions of a link
func (c *Collector) SetLinkRate(source, target string, tx, rx int) {
	if c == nil {
		return
	}
	c.LinkRate.WithLabelValues(source, target, "tx").Set(float64(tx))
	c.LinkRate.WithLabelValues(source, target, "rx").Set(float64(rx))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
