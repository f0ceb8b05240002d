// Package api serves the recording control API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/storage"
)

// Device is the part of a device the API drives.
type Device interface {
	Name() string
	TriggerRecording(on bool, reason device.Reason) (bool, error)
	SetRecordingEnabled(reason device.Reason, enabled bool) bool
	StopAllRecordings()
	Sessions() []device.SessionInfo
}

// ArchiveLister answers archive queries.
type ArchiveLister interface {
	List(ctx context.Context, q storage.ArchiveQuery) ([]*storage.Archive, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config configures the HTTP server.
type Config struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	// Filled from the metrics section.
	MetricsPath   string `yaml:"-"`
	EnableMetrics bool   `yaml:"-"`
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	devices    map[string]Device
	order      []string
	archives   ArchiveLister
	health     map[string]HealthCheck
	limiter    *RateLimiter
	logger     recorderlog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithArchives enables GET /api/archives.
func WithArchives(l ArchiveLister) Option {
	return func(s *Server) { s.archives = l }
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.health[name] = check }
}

// WithLogger sets the server logger.
func WithLogger(l recorderlog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the router for devices.
func NewServer(cfg Config, devices []Device, opts ...Option) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		devices: make(map[string]Device, len(devices)),
		health:  make(map[string]HealthCheck),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:  recorderlog.L(),
	}
	for _, d := range devices {
		s.devices[d.Name()] = d
		s.order = append(s.order, d.Name())
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if cfg.EnableMetrics {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{name}", s.handleGetDevice)
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/devices/{name}/recordings/{reason}", s.handleStartRecording)
			r.Delete("/devices/{name}/recordings/{reason}", s.handleStopRecording)
			r.Post("/devices/{name}/recordings/{reason}/pause", s.handlePause)
			r.Post("/devices/{name}/recordings/{reason}/resume", s.handleResume)
			r.Delete("/devices/{name}/recordings", s.handleStopAll)
		})
		if s.archives != nil {
			r.Get("/archives", s.handleListArchives)
		}
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// corsMiddleware echoes whitelisted origins and answers preflights.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			recorderlog.String("method", r.Method),
			recorderlog.String("path", r.URL.Path),
			recorderlog.Int("status", ww.Status()),
			recorderlog.String("request_id", middleware.GetReqID(r.Context())),
			recorderlog.Duration("latency", time.Since(start)))
	})
}

// ListenAndServe blocks until the server fails or is shut down. A
// shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting API server", recorderlog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	defer s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}
