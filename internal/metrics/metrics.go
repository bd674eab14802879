// Package metrics is the observability sink for failures the pipeline swallows.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracker"

type Metrics struct {
	reports     *prometheus.CounterVec
	pollFetches *prometheus.CounterVec
	pollSkipped prometheus.Counter
	watchErrors *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	distance    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_reports_total",
			Help:      "Collector position reports by result (sent, throttled, error).",
		}, []string{"result"}),
		pollFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_fetches_total",
			Help:      "Collector position fetches by result (ok, error).",
		}, []string{"result"}),
		pollSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_skipped_total",
			Help:      "Poll ticks skipped because the previous fetch was still in flight.",
		}),
		watchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geolocation_errors_total",
			Help:      "Geolocation errors by code.",
		}, []string{"code"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proximity_alerts_total",
			Help:      "Proximity alerts by outcome (played, dropped, failed).",
		}, []string{"outcome"}),
		distance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_distance_meters",
			Help:      "Last evaluated distance between the citizen and the collector.",
		}),
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Report(result string) {
	if m != nil {
		m.reports.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PollFetch(result string) {
	if m != nil {
		m.pollFetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PollSkipped() {
	if m != nil {
		m.pollSkipped.Inc()
	}
}

func (m *Metrics) WatchError(code string) {
	if m != nil {
		m.watchErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Alert(outcome string) {
	if m != nil {
		m.alerts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Distance(meters float64) {
	if m != nil {
		m.distance.Set(meters)
	}
}
