package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacperjurak/gopsf/internal/processing"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/server"
	"github.com/kacperjurak/gopsf/pkg/store"
)

func main() {
	cfg, serverConfig := parseFlags()

	level := slog.LevelInfo
	if cfg.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var catalog *store.Store
	if serverConfig.CatalogPath != "" {
		var err error
		catalog, err = store.Open(serverConfig.CatalogPath)
		if err != nil {
			logger.Error("❌ Failed to open catalog", "path", serverConfig.CatalogPath, "error", err)
			os.Exit(1)
		}
		defer catalog.Close()
	}

	processor := processing.NewPSFProcessor(processing.Options{
		Logger:          logger,
		Catalog:         catalog,
		EnableProfiling: serverConfig.EnableProfiling,
	})

	srv := server.New(server.Options{
		Config:       cfg,
		ServerConfig: serverConfig,
		Processor:    processor.ProcessorFunc(),
		Catalog:      catalog,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("❌ Failed to start server", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("🛑 Received shutdown signal...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("❌ Error during shutdown", "error", err)
		}
	}
}

// parseFlags parses command line flags and returns configuration
func parseFlags() (*config.Config, *config.ServerConfig) {
	cfg := config.DefaultConfig()
	sc := config.DefaultServerConfig()

	var configPath string
	flag.StringVar(&configPath, "config", "", "YAML file with calculation defaults")
	flag.StringVar(&sc.Port, "port", sc.Port, "HTTP port")
	flag.IntVar(&sc.WorkerCount, "workers", sc.WorkerCount, "Concurrent calculations")
	flag.StringVar(&sc.WebhookURL, "webhook", sc.WebhookURL, "Completion webhook URL")
	flag.StringVar(&sc.OutputDir, "output-dir", sc.OutputDir, "Directory for PSF FITS files")
	flag.StringVar(&sc.CatalogPath, "catalog", sc.CatalogPath, "SQLite catalog file (empty disables)")
	flag.BoolVar(&sc.EnableMetrics, "metrics", sc.EnableMetrics, "Serve Prometheus metrics on /metrics")
	flag.BoolVar(&sc.EnableProfiling, "profile", sc.EnableProfiling, "Enable pprof profiling")
	flag.StringVar(&sc.ProfilingPort, "profile-port", sc.ProfilingPort, "pprof port")
	flag.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress verbose output")
	flag.Parse()

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			slog.Error("❌ Failed to load config", "path", configPath, "error", err)
			os.Exit(2)
		}
		loaded.Quiet = loaded.Quiet || cfg.Quiet
		cfg = loaded
	}
	cfg.EnableProfiling = sc.EnableProfiling
	return cfg, sc
}
