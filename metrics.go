package fiberrt

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fiberrt"

// Metrics holds the runtime's collectors, labelled by scheduler index.
type Metrics struct {
	fibersSpawned *prometheus.CounterVec
	fibersLive    *prometheus.GaugeVec
	ioOps         *prometheus.CounterVec
	ioFailures    *prometheus.CounterVec
	ioInFlight    *prometheus.GaugeVec
	slotWaits     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fibersSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fibers_spawned_total",
			Help:      "Fibers spawned, by scheduler and origin.",
		}, []string{"scheduler", "origin"}),
		fibersLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "fibers_live",
			Help:      "Fibers spawned and not yet finished.",
		}, []string{"scheduler"}),
		ioOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "io_ops_total",
			Help:      "Blocking reads and writes issued through the bridge.",
		}, []string{"scheduler", "op"}),
		ioFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "io_failures_total",
			Help:      "Bridge operations that errored or transferred less than requested.",
		}, []string{"scheduler", "op"}),
		ioInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "io_in_flight",
			Help:      "Operations submitted to the completion engine and not yet reaped.",
		}, []string{"scheduler"}),
		slotWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "io_slot_waits_total",
			Help:      "Operations that parked waiting for a free in-flight slot.",
		}, []string{"scheduler"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.fibersSpawned,
		m.fibersLive,
		m.ioOps,
		m.ioFailures,
		m.ioInFlight,
		m.slotWaits,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "fiberrt: register metrics")
		}
	}
	return m, nil
}

// schedMetrics are the collectors of one scheduler with its label
// already applied.
type schedMetrics struct {
	spawnedLocal  prometheus.Counter
	spawnedRemote prometheus.Counter
	live          prometheus.Gauge
	reads         prometheus.Counter
	writes        prometheus.Counter
	readFailures  prometheus.Counter
	writeFailures prometheus.Counter
	inFlight      prometheus.Gauge
	slotWaits     prometheus.Counter
}

func (m *Metrics) forScheduler(index int) *schedMetrics {
	idx := strconv.Itoa(index)
	return &schedMetrics{
		spawnedLocal:  m.fibersSpawned.WithLabelValues(idx, "local"),
		spawnedRemote: m.fibersSpawned.WithLabelValues(idx, "remote"),
		live:          m.fibersLive.WithLabelValues(idx),
		reads:         m.ioOps.WithLabelValues(idx, "read"),
		writes:        m.ioOps.WithLabelValues(idx, "write"),
		readFailures:  m.ioFailures.WithLabelValues(idx, "read"),
		writeFailures: m.ioFailures.WithLabelValues(idx, "write"),
		inFlight:      m.ioInFlight.WithLabelValues(idx),
		slotWaits:     m.slotWaits.WithLabelValues(idx),
	}
}

func (m *schedMetrics) ioOps(kind string) prometheus.Counter {
	if kind == "read" {
		return m.reads
	}
	return m.writes
}

func (m *schedMetrics) ioFailures(kind string) prometheus.Counter {
	if kind == "read" {
		return m.readFailures
	}
	return m.writeFailures
}
