package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Import pprof handlers
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kacperjurak/gopsf/pkg/config"
)

// Profiler manages pprof profiling server
type Profiler struct {
	config *config.ServerConfig
	server *http.Server
	logger *slog.Logger
}

// New creates a new profiler instance
func New(cfg *config.ServerConfig, logger *slog.Logger) *Profiler {
	return &Profiler{
		config: cfg,
		logger: logger,
	}
}

// Handler returns the profiling routes: the pprof index plus /debug/info.
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	// pprof registers itself on the default mux at import
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/info", p.infoHandler)
	return mux
}

// Start starts the profiling server on a separate port
func (p *Profiler) Start() error {
	if !p.config.EnableProfiling {
		p.logger.Info("📊 Profiling disabled")
		return nil
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	p.server = &http.Server{
		Addr:    ":" + p.config.ProfilingPort,
		Handler: p.Handler(),
	}

	p.logger.Info("📊 Starting profiling server",
		"port", p.config.ProfilingPort,
		"pprof", fmt.Sprintf("http://localhost:%s/debug/pprof/", p.config.ProfilingPort),
		"info", fmt.Sprintf("http://localhost:%s/debug/info", p.config.ProfilingPort))

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("❌ Profiling server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the profiling server
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}

	p.logger.Info("🛑 Shutting down profiling server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown error: %w", err)
	}

	p.logger.Info("✅ Profiling server stopped")
	return nil
}

// RuntimeInfo is served by /debug/info.
type RuntimeInfo struct {
	Timestamp  string `json:"timestamp"`
	Goroutines int    `json:"goroutines"`
	GOMAXPROCS int    `json:"gomaxprocs"`
	NumCPU     int    `json:"num_cpu"`
	Version    string `json:"version"`
	HeapAlloc  string `json:"heap_alloc"`
	HeapSys    string `json:"heap_sys"`
	TotalAlloc string `json:"total_alloc"`
	NumGC      uint32 `json:"num_gc"`
}

// CurrentRuntimeInfo samples the Go runtime.
func CurrentRuntimeInfo() RuntimeInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeInfo{
		Timestamp:  time.Now().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		NumCPU:     runtime.NumCPU(),
		Version:    runtime.Version(),
		HeapAlloc:  humanize.IBytes(m.HeapAlloc),
		HeapSys:    humanize.IBytes(m.HeapSys),
		TotalAlloc: humanize.IBytes(m.TotalAlloc),
		NumGC:      m.NumGC,
	}
}

// infoHandler provides runtime information
func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(CurrentRuntimeInfo()); err != nil {
		p.logger.Warn("failed to encode runtime info", "error", err)
	}
}
