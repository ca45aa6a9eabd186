// Package metrics exposes Prometheus collectors for mood detection, wellness score
// updates and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/MoodPipe/internal/mood"
)

// Metrics holds the MoodPipe collectors registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	Detections      *prometheus.CounterVec
	DetectionConf   prometheus.Histogram
	TrendFallbacks  prometheus.Counter
	ScoreUpdates    prometheus.Counter
	ScoreDelta      prometheus.Histogram
	AlertsSent      *prometheus.CounterVec
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveStreams   prometheus.Gauge
}

// New registers the collectors on a fresh registry, which also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		Detections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodpipe_detections_total",
				Help: "Mood detections by tier and mood",
			},
			[]string{"method", "mood", "updated"},
		),
		DetectionConf: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moodpipe_detection_confidence",
				Help:    "Confidence of mood detections",
				Buckets: []float64{0, 0.15, 0.25, 0.4, 0.6, 0.75, 0.85, 0.95, 1},
			},
		),
		TrendFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moodpipe_trend_fallbacks_total",
				Help: "Score updates that fell back to the simple calculator",
			},
		),
		ScoreUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "moodpipe_score_updates_total",
				Help: "Dashboard updates written",
			},
		),
		ScoreDelta: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moodpipe_score_delta",
				Help:    "Wellness score change per update",
				Buckets: prometheus.LinearBuckets(-12, 3, 9),
			},
		),
		AlertsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodpipe_alerts_total",
				Help: "Low wellness alerts by result",
			},
			[]string{"result"},
		),
		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodpipe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "moodpipe_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
	}
}

// ObserveDetection records one detection.
func (m *Metrics) ObserveDetection(r mood.Result) {
	m.Detections.WithLabelValues(string(r.Method), r.Mood, strconv.FormatBool(r.ShouldUpdate)).Inc()
	m.DetectionConf.Observe(r.Confidence)
}

// ObserveTrendFallback records a fallback to the simple calculator.
func (m *Metrics) ObserveTrendFallback() {
	m.TrendFallbacks.Inc()
}

// ObserveScoreUpdate records a written dashboard update.
func (m *Metrics) ObserveScoreUpdate(delta int) {
	m.ScoreUpdates.Inc()
	m.ScoreDelta.Observe(float64(delta))
}

// ObserveAlert records the result of a low wellness alert ("sent" or "failed").
func (m *Metrics) ObserveAlert(result string) {
	m.AlertsSent.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	m.RequestCount.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// StreamOpened and StreamClosed track open dashboard streams.
func (m *Metrics) StreamOpened() { m.ActiveStreams.Inc() }

func (m *Metrics) StreamClosed() { m.ActiveStreams.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
