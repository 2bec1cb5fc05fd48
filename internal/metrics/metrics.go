// Package metrics exposes relay counters to Prometheus and keeps go-metrics
// meters that are periodically reported to the log.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

const namespace = "chatrelay"

// Forward outcomes used as the "result" label.
const (
	ForwardOK       = "ok"
	ForwardError    = "error"
	ForwardDisabled = "disabled"
	ForwardRejected = "rejected"
	ForwardDropped  = "dropped"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics holds the relay's instruments. A nil *Metrics is valid and records
// nothing, which keeps tests and optional wiring simple.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	DeliveryFailures  prometheus.Counter
	RelaysReceived    prometheus.Counter
	Forwards          *prometheus.CounterVec
	ForwardDuration   prometheus.Histogram

	meters gometrics.Registry
}

// New creates and registers the relay metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast passes.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to connections.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed sends that pruned a connection.",
		}),
		RelaysReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "received_total",
			Help:      "Total number of messages accepted on the relay endpoint.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "forwards_total",
			Help:      "Peer forward attempts by result.",
		}, []string{"result"}),
		ForwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "forward_duration_seconds",
			Help:      "Latency of peer forward requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		meters: gometrics.NewRegistry(),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.Broadcasts,
		m.Deliveries,
		m.DeliveryFailures,
		m.RelaysReceived,
		m.Forwards,
		m.ForwardDuration,
	)
	return m
}

// Meters returns the go-metrics registry backing the periodic report.
func (m *Metrics) Meters() gometrics.Registry {
	if m == nil {
		return nil
	}
	return m.meters
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	gometrics.GetOrRegisterCounter("connections", m.meters).Inc(1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	gometrics.GetOrRegisterCounter("connections", m.meters).Dec(1)
}

// BroadcastDone records one broadcast pass.
func (m *Metrics) BroadcastDone(delivered, failed int) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.Deliveries.Add(float64(delivered))
	m.DeliveryFailures.Add(float64(failed))
	gometrics.GetOrRegisterMeter("broadcasts", m.meters).Mark(1)
	gometrics.GetOrRegisterMeter("deliveries", m.meters).Mark(int64(delivered))
	if failed > 0 {
		gometrics.GetOrRegisterMeter("delivery.failures", m.meters).Mark(int64(failed))
	}
}

func (m *Metrics) RelayReceived() {
	if m == nil {
		return
	}
	m.RelaysReceived.Inc()
	gometrics.GetOrRegisterMeter("relays", m.meters).Mark(1)
}

// ForwardDone records a forward outcome. took is ignored for outcomes that
// never reached the network.
func (m *Metrics) ForwardDone(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Forwards.WithLabelValues(result).Inc()
	if result == ForwardOK || result == ForwardError {
		m.ForwardDuration.Observe(took.Seconds())
	}
	gometrics.GetOrRegisterMeter("forwards."+result, m.meters).Mark(1)
}
