// Package observability holds the rig's Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coincidence_rig"

// #region metrics
// Metrics groups every collector the rig exports. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	measurements   *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	bridgeAttempts *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	wsClients      prometheus.Gauge
	broadcasts     *prometheus.CounterVec
}

// New registers the rig collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: mode (simulation, hardware), source (simulation, bridge, fallback)
		measurements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "measurements_total",
			Help:      "Measurements served, by requested mode and actual source",
		}, []string{"mode", "source"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "measurement_duration_seconds",
			Help:      "Wall time of one measurement including emulated latency",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 11, 20, 60, 130},
		}, []string{"source"}),
		// Labels: outcome (ok, error)
		bridgeAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "bridge_attempts_total",
			Help:      "Calls made to the hardware bridge",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Bridge HTTP requests by route and status code",
		}, []string{"route", "code"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		}),
		// Labels: trigger (push, periodic, knobs, request)
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "numerical_data messages sent, by trigger",
		}, []string{"trigger"}),
	}
}
// #endregion metrics

// #region recording
// ObserveMeasurement counts one served measurement and its duration.
func (m *Metrics) ObserveMeasurement(mode, source string, d time.Duration) {
	if m == nil {
		return
	}
	m.measurements.WithLabelValues(mode, source).Inc()
	m.duration.WithLabelValues(source).Observe(d.Seconds())
}

// BridgeAttempt counts one bridge call.
func (m *Metrics) BridgeAttempt(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.bridgeAttempts.WithLabelValues(outcome).Inc()
}

// HTTPRequest counts one bridge HTTP response.
func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// ClientConnected and ClientDisconnected track the WebSocket client gauge.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

// Broadcast counts one numerical_data fan-out.
func (m *Metrics) Broadcast(trigger string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(trigger).Inc()
}
// #endregion recording

// #region handler
// Handler serves the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
// #endregion handler
