// Package metrics exports JSON-RPC request measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mnehpets/a2aserve/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "a2a"

// unknownMethod labels requests whose method could not be determined.
const unknownMethod = "unknown"

// Metrics implements jsonrpc.Observer with Prometheus collectors.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	activeStreams *prometheus.GaugeVec
	streams       *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

var _ jsonrpc.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh registry that also carries the Go runtime and process collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = r
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and result code (0 for success).",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time from request receipt to the last byte of the response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"method"}),
		activeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "active_streams",
			Help:      "Event streams currently open.",
		}, []string{"method"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "streams_total",
			Help:      "Event streams opened.",
		}, []string{"method"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.activeStreams, m.streams} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

func label(method string) string {
	if method == "" {
		return unknownMethod
	}
	return method
}

// ObserveRequest implements jsonrpc.Observer.
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	method = label(method)
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

// StreamStarted implements jsonrpc.Observer.
func (m *Metrics) StreamStarted(method string) {
	method = label(method)
	m.streams.WithLabelValues(method).Inc()
	m.activeStreams.WithLabelValues(method).Inc()
}

// StreamEnded implements jsonrpc.Observer.
func (m *Metrics) StreamEnded(method string) {
	m.activeStreams.WithLabelValues(label(method)).Dec()
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
