package web

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/logic/sensor"
)

const shutdownTimeout = 5 * time.Second

// RateLimit configures per-client throttling. RPS 0 disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	limiter  *clientLimiter
}

// NewServer creates a server configured for the given address and handlers.
func NewServer(addr string, handlers *Handlers, limit RateLimit) *Server {
	s := &Server{addr: addr, handlers: handlers}
	if limit.RPS > 0 {
		s.limiter = newClientLimiter(limit.RPS, limit.Burst)
	}
	return s
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(h.Metrics.Middleware)

	// Scrapes and the long-lived stream bypass the limiter.
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}
	r.Get("/status/stream", h.HandleStatusStream)
	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/sensor", h.HandleSensor)
		r.Get("/photo", h.HandlePhoto)
		r.Get("/photo/fast", h.HandlePhotoFast)
		r.Get("/photo/latest", h.HandleLatestPhoto)
		if h.Store != nil {
			r.Route("/data", h.dataRoutes)
		}
	})

	if h.PublicDir != "" {
		r.Handle("/public/*", http.StripPrefix("/public/", http.FileServer(noListing{http.Dir(h.PublicDir)})))
	}

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which it takes ownership of.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not cancel request contexts; end the status streams
	// explicitly or they hold it until the timeout.
	srv.RegisterOnShutdown(s.handlers.Broadcaster.Close)

	errCh := make(chan error, 1)
	go func() {
		debug.Summary("AgriMonitor")
		debug.Info("Server running at http://%s", ln.Addr())
		debug.Route("Sensor API", "/sensor")
		debug.Route("Photo API", "/photo")
		if s.handlers.Store != nil {
			debug.Route("JSON CRUD API", "/data")
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		debug.Live("[%s] Access from %s to %s", sensor.FormatDate(time.Now()), clientIP(r), r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// noListing serves files and directory index.html, but never a listing.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := n.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, fs.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}

var _ http.FileSystem = noListing{}
