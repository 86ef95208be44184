package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimonitor/agrimon/internal/logic/sensor"
)

func TestObserveReading(t *testing.T) {
	m := New()
	m.ObserveReading(sensor.Reading{Temperature: "21.3", Humidity: "55.6"})
	m.ObserveReading(sensor.Reading{Temperature: sensor.ErrorSentinel, Humidity: sensor.ErrorSentinel})
	m.SensorError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorReads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorReads.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorReads.WithLabelValues("error")))
	assert.Equal(t, 21.3, testutil.ToFloat64(m.lastTemperature))
	assert.Equal(t, 55.6, testutil.ToFloat64(m.lastHumidity))
}

func TestCapture(t *testing.T) {
	m := New()
	m.Capture("request", time.Second, nil)
	m.Capture("periodic", time.Second, errors.New("exit 1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("request", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("periodic", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReading(sensor.Reading{Temperature: "1.0", Humidity: "1.0"})
	m.SensorError()
	m.Capture("request", time.Second, nil)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/data/{collection}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data/posts", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/data/{collection}", "404")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "agrimon_http_requests_total"))
}

func TestStatusRecorder_Flush(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	var _ http.Flusher = rec
	rec.Flush()
	assert.True(t, w.Flushed)
}
