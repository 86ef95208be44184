package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrimonitor/agrimon/internal/logic/sensor"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	sensorReads       *prometheus.CounterVec
	captures          *prometheus.CounterVec
	captureDuration   *prometheus.HistogramVec
	lastTemperature   prometheus.Gauge
	lastHumidity      prometheus.Gauge
}

// New creates the collectors on a private registry, so tests can build as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimon_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agrimon_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimon_sensor_reads_total",
			Help: "Sensor reads by result (ok, invalid, error).",
		}, []string{"result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimon_captures_total",
			Help: "Still captures by kind (request, periodic) and result (ok, error).",
		}, []string{"kind", "result"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agrimon_capture_duration_seconds",
			Help:    "Histogram of still capture durations by kind.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		lastTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agrimon_temperature_celsius",
			Help: "Last valid temperature reading.",
		}),
		lastHumidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agrimon_humidity_percent",
			Help: "Last valid relative humidity reading.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.sensorReads,
		m.captures,
		m.captureDuration,
		m.lastTemperature,
		m.lastHumidity,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent events working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and duration, labelled with the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReading records a sensor reading and, when it is valid, updates the
// last-value gauges.
func (m *Metrics) ObserveReading(r sensor.Reading) {
	if m == nil {
		return
	}
	if !r.Valid() {
		m.sensorReads.WithLabelValues("invalid").Inc()
		return
	}
	m.sensorReads.WithLabelValues("ok").Inc()
	if v, err := strconv.ParseFloat(r.Temperature, 64); err == nil {
		m.lastTemperature.Set(v)
	}
	if v, err := strconv.ParseFloat(r.Humidity, 64); err == nil {
		m.lastHumidity.Set(v)
	}
}

// SensorError records a hard sensor failure.
func (m *Metrics) SensorError() {
	if m == nil {
		return
	}
	m.sensorReads.WithLabelValues("error").Inc()
}

// Capture records one still capture.
func (m *Metrics) Capture(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.captures.WithLabelValues(kind, result).Inc()
	m.captureDuration.WithLabelValues(kind).Observe(d.Seconds())
}
