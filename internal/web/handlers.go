package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/camera"
	"github.com/agrimonitor/agrimon/internal/logic/capture"
	"github.com/agrimonitor/agrimon/internal/logic/sensor"
	"github.com/agrimonitor/agrimon/internal/metrics"
)

// SensorReader is the part of sensor.Reader the handlers need.
type SensorReader interface {
	Read() (sensor.Reading, error)
}

// Camera takes a still into a fresh temporary file and returns its path.
type Camera interface {
	Capture(ctx context.Context, preset camera.Preset) (string, error)
}

// HandlerConfig holds the dependencies of the HTTP handlers.
type HandlerConfig struct {
	Sensor        SensorReader
	Camera        Camera
	DefaultPreset camera.Preset
	FastPreset    camera.Preset

	// LatestPath is where the periodic scheduler keeps its image; empty when
	// periodic capture is disabled.
	LatestPath    string
	PeriodicStats func() capture.Stats

	// LatestSample reports the telemetry sampler's last reading; nil when
	// telemetry is disabled.
	LatestSample func() (sensor.Reading, bool)

	Store       DocumentStore // nil disables /data
	Broadcaster *StatusBroadcaster
	Metrics     *metrics.Metrics
	PublicDir   string
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	HandlerConfig
}

// NewHandlers creates handlers with the given dependencies.
// A nil Broadcaster is replaced by an empty one.
func NewHandlers(cfg HandlerConfig) *Handlers {
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewStatusBroadcaster()
	}
	return &Handlers{HandlerConfig: cfg}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("write response: %v", err)
	}
}

// HandleSensor handles GET /sensor. An unusable reading still answers 200
// with "[error]" fields; only a driver failure answers 500.
func (h *Handlers) HandleSensor(w http.ResponseWriter, r *http.Request) {
	reading, err := h.Sensor.Read()
	if err != nil {
		h.Metrics.SensorError()
		debug.Errorf("[%s] Sensor read failed: %v", sensor.FormatDate(time.Now()), err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.Metrics.ObserveReading(reading)
	writeJSON(w, http.StatusOK, reading)
}

// HandlePhoto handles GET /photo with the default preset.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	h.servePhoto(w, r, "request", h.DefaultPreset)
}

// HandlePhotoFast handles GET /photo/fast.
func (h *Handlers) HandlePhotoFast(w http.ResponseWriter, r *http.Request) {
	h.servePhoto(w, r, "fast", h.FastPreset)
}

func (h *Handlers) servePhoto(w http.ResponseWriter, r *http.Request, kind string, preset camera.Preset) {
	debug.Live("[%s] Photo request from %s", sensor.FormatDate(time.Now()), r.RemoteAddr)

	// The capture outlives a client that hangs up; the file is cleaned up either way.
	ctx := context.WithoutCancel(r.Context())

	start := time.Now()
	path, err := h.Camera.Capture(ctx, preset)
	h.Metrics.Capture(kind, time.Since(start), err)
	if err != nil {
		debug.Errorf("Camera capture error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Camera capture failed",
			Details: err.Error(),
		})
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			debug.Errorf("Error deleting temp file: %v", err)
		}
	}()

	serveJPEG(w, r, path)
}

// HandleLatestPhoto handles GET /photo/latest, the last periodic image.
func (h *Handlers) HandleLatestPhoto(w http.ResponseWriter, r *http.Request) {
	if h.LatestPath == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "periodic capture is disabled"})
		return
	}
	if _, err := os.Stat(h.LatestPath); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no periodic photo yet"})
		return
	}
	serveJPEG(w, r, h.LatestPath)
}

func serveJPEG(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		debug.Errorf("Error sending file: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "photo unavailable", Details: err.Error()})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		debug.Errorf("Error sending file: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "photo unavailable", Details: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type healthResponse struct {
	Status   string         `json:"status"`
	Periodic *periodicState  `json:"periodic,omitempty"`
	Sample   *sensor.Reading `json:"last_sample,omitempty"`
}

type periodicState struct {
	Runs        int    `json:"runs"`
	Failures    int    `json:"failures"`
	Skipped     int    `json:"skipped"`
	LastSuccess string `json:"last_success,omitempty"`
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.PeriodicStats != nil {
		s := h.PeriodicStats()
		resp.Periodic = &periodicState{Runs: s.Runs, Failures: s.Failures, Skipped: s.Skipped}
		if !s.LastSuccess.IsZero() {
			resp.Periodic.LastSuccess = sensor.FormatDate(s.LastSuccess)
		}
	}
	if h.LatestSample != nil {
		if last, ok := h.LatestSample(); ok {
			resp.Sample = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
