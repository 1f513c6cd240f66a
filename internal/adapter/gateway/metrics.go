package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapsight"

// Metrics holds the proxy's Prometheus collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// NewMetrics creates and registers the proxy collectors. breakerState, when
// non-nil, is exported as a gauge (0 closed, 1 half-open, 2 open).
func NewMetrics(breakerState func() float64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Total analysis requests by route, transport and response status code",
			},
			[]string{"route", "transport", "status"},
		),
		remoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vision_request_duration_seconds",
				Help:      "Duration of remote vision model calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"}, // success, error
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_requests_in_flight",
				Help:      "Number of analysis requests currently being served",
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.remoteLatency,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if breakerState != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vision_circuit_breaker_state",
				Help:      "Vision provider circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			breakerState,
		))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest counts one finished analysis request.
func (m *Metrics) ObserveRequest(route, transport string, status int) {
	m.requestsTotal.WithLabelValues(route, transport, strconv.Itoa(status)).Inc()
}

// trackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) trackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveRemote records the latency of one remote vision call.
func (m *Metrics) ObserveRemote(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.remoteLatency.WithLabelValues(outcome).Observe(d.Seconds())
}
