package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kacperjurak/gopsf/internal/metrics"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/handlers"
	"github.com/kacperjurak/gopsf/pkg/instrument"
	"github.com/kacperjurak/gopsf/pkg/profiling"
	"github.com/kacperjurak/gopsf/pkg/store"
	"github.com/kacperjurak/gopsf/pkg/webhook"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config       *config.Config
	serverConfig *config.ServerConfig
	runner       *handlers.Runner
	catalog      *store.Store
	httpServer   *http.Server
	profiler     *profiling.Profiler
	middleware   *profiling.Middleware
	logger       *slog.Logger
}

// Options holds configuration for creating a new server
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
	Processor    handlers.ProcessorFunc
	// Catalog backs the read endpoints; nil disables them.
	Catalog *store.Store
	Logger  *slog.Logger
}

// New creates a new server instance
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hook := webhook.NewClient(opts.ServerConfig.WebhookURL, opts.Logger)
	runner := handlers.NewRunner(opts.ServerConfig.WorkerCount, opts.Processor, hook, opts.Logger)

	s := &Server{
		config:       opts.Config,
		serverConfig: opts.ServerConfig,
		runner:       runner,
		catalog:      opts.Catalog,
		profiler:     profiling.New(opts.ServerConfig, opts.Logger),
		middleware:   profiling.NewMiddleware(opts.ServerConfig.EnableProfiling, opts.Logger),
		logger:       opts.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	out := s.serverConfig.OutputDir
	psf := handlers.NewPSFHandler(s.config, out, s.runner, s.logger)
	batch := handlers.NewBatchHandler(s.config, out, s.runner, s.logger)
	catalog := handlers.NewCatalogHandler(s.catalog)
	strategy := handlers.NewStrategyHandler(s.config)

	mux.Handle("/api/v1/psf", s.middleware.ProfiledHandler("psf", methodSplit(psf, catalog)))
	mux.Handle("/api/v1/psf/batch", s.middleware.ProfiledHandler("psf-batch", batch))
	mux.Handle("/api/v1/psf/", s.middleware.ProfiledHandler("psf-get", catalog))
	mux.Handle("/api/v1/strategy", s.middleware.ProfiledHandler("strategy", strategy))
	mux.HandleFunc("/api/v1/instruments", s.instrumentsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/debug/gc", s.gcHandler)
	if s.serverConfig.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	if s.serverConfig.EnableMetrics {
		handler = metrics.Middleware(mux)
	}

	s.httpServer = &http.Server{
		Addr:        ":" + s.serverConfig.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// synchronous calculations can take minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// methodSplit sends GET to get and everything else to post.
func methodSplit(post, get http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			get.ServeHTTP(w, r)
			return
		}
		post.ServeHTTP(w, r)
	})
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

type instrumentView struct {
	Name       string   `json:"name"`
	PixelScale float64  `json:"pixel_scale"`
	Filters    []string `json:"filters"`
	Masks      []string `json:"masks,omitempty"`
}

// instrumentsHandler lists the supported instruments, filters and masks.
func (s *Server) instrumentsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var out []instrumentView
	for _, name := range instrument.Names() {
		in, err := instrument.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, instrumentView{
			Name:       in.Name,
			PixelScale: in.PixelScale,
			Filters:    in.FilterNames(),
			Masks:      in.MaskNames(),
		})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"instruments": out})
}

// gcHandler triggers garbage collection and returns stats
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.ForceGC()
	stats := profiling.GetGCStats()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"gc_runs":         stats.NumGC,
		"pause_total_ms":  float64(stats.PauseTotal.Nanoseconds()) / 1e6,
		"pause_recent_us": float64(stats.PauseRecent.Nanoseconds()) / 1e3,
		"cpu_percent":     stats.GCCPUPercent,
		"last_gc":         stats.LastGC.Format(time.RFC3339),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		s.logger.Error("❌ Failed to start profiler", "error", err)
	}

	s.logger.Info("🚀 Starting HTTP server",
		"port", s.serverConfig.Port,
		"workers", s.serverConfig.WorkerCount,
		"output_dir", s.serverConfig.OutputDir,
		"webhook", s.serverConfig.WebhookURL)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then cancels and waits for background
// calculations.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down server...")

	if err := s.profiler.Stop(); err != nil {
		s.logger.Warn("⚠️ Profiler shutdown error", "error", err)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		return fmt.Errorf("waiting for calculations: %w", err)
	}

	s.logger.Info("✅ Server shutdown complete")
	return nil
}
