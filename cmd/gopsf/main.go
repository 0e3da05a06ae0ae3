package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kacperjurak/gopsf/internal/processing"
	"github.com/kacperjurak/gopsf/internal/utils"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/profiling"
	"github.com/kacperjurak/gopsf/pkg/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, "❌", err)
		return 2
	}

	level := slog.LevelInfo
	if cfg.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	var catalog *store.Store
	if cfg.Catalog != "" {
		catalog, err = store.Open(cfg.Catalog)
		if err != nil {
			logger.Error("❌ Failed to open catalog", "path", cfg.Catalog, "error", err)
			return 1
		}
		defer catalog.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := processing.NewPSFProcessor(processing.Options{
		Logger:          logger,
		Catalog:         catalog,
		EnableProfiling: cfg.EnableProfiling,
	})
	out, err := proc.Process(ctx, utils.GenerateID(), cfg)
	if err != nil {
		return 1
	}
	if cfg.EnableProfiling {
		profiling.LogGCStats(logger)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.Response()); err != nil {
		logger.Error("❌ Failed to write summary", "error", err)
		return 1
	}
	return 0
}

// parseFlags builds the configuration: defaults, then the YAML file given by
// -config, then every flag set explicitly on the command line.
func parseFlags(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("gopsf", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath string
		f          = config.DefaultConfig()
	)
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.Instrument, "instrument", f.Instrument, "Instrument (NIRCam, NIRSpec, NIRISS, MIRI, FGS)")
	fs.StringVar(&f.Filter, "filter", f.Filter, "Filter name")
	fs.StringVar(&f.Mask, "mask", f.Mask, "Coronagraph mask")
	fs.StringVar(&f.Aperture, "aperture", f.Aperture, "SIAF aperture name")
	fs.StringVar(&f.SIAFFile, "siaf", f.SIAFFile, "SIAF XML file")
	fs.StringVar(&f.OPDFile, "opd", f.OPDFile, "OPD map FITS file")
	fs.IntVar(&f.NPix, "npix", f.NPix, "Pupil array size")
	fs.IntVar(&f.Oversample, "oversample", f.Oversample, "Detector oversampling")
	fs.IntVar(&f.CoronOversample, "coron-oversample", f.CoronOversample, "Occulter plane oversampling")
	fs.IntVar(&f.FOVPixels, "fov", f.FOVPixels, "Field of view in detector pixels")
	fs.IntVar(&f.NLambda, "nlambda", f.NLambda, "Number of wavelengths (0 = filter default)")
	fs.Var(&f.Wavelengths, "wavelength", "Explicit wavelength in metres (repeatable)")
	fs.Var(&f.Weights, "weight", "Weight of the matching -wavelength (repeatable)")
	fs.StringVar(&f.SpectralType, "sptype", f.SpectralType, "Source spectral type, e.g. G2V")
	fs.Float64Var(&f.Temperature, "temperature", f.Temperature, "Blackbody temperature in K (overrides -sptype)")
	fs.StringVar(&f.Strategy, "strategy", f.Strategy, "Transform strategy: auto, mft, fft, sam")
	fs.BoolVar(&f.DisableSemiAnalytic, "no-sam", f.DisableSemiAnalytic, "Disable the semi-analytic coronagraph transform")
	fs.StringVar(&f.Output, "o", f.Output, "Output FITS file")
	fs.StringVar(&f.DisplayPath, "display", f.DisplayPath, "Directory for intermediate-plane PNG snapshots")
	fs.StringVar(&f.Catalog, "catalog", f.Catalog, "SQLite catalog file")
	fs.BoolVar(&f.Parallel.UseMultiprocessing, "parallel", f.Parallel.UseMultiprocessing, "Spread wavelengths over a worker pool")
	fs.BoolVar(&f.Parallel.UseFFTThreads, "fft-threads", f.Parallel.UseFFTThreads, "Split each FFT over goroutines")
	fs.IntVar(&f.Parallel.Workers, "workers", f.Parallel.Workers, "Worker count (0 = from CPUs and memory)")
	fs.Uint64Var(&f.Parallel.MemoryLimitBytes, "memory-limit", f.Parallel.MemoryLimitBytes, "Memory budget in bytes (0 = free memory)")
	fs.BoolVar(&f.Parallel.FFTAvailable, "fft", f.Parallel.FFTAvailable, "Allow the FFT strategy")
	fs.BoolVar(&f.Quiet, "q", f.Quiet, "Quiet mode")
	fs.BoolVar(&f.EnableProfiling, "profile", f.EnableProfiling, "Profile each wavelength task")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fs.Visit(func(fl *flag.Flag) {
		applyFlag(cfg, f, fl.Name)
	})
	cfg.Parallel.Display = cfg.DisplayPath != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlag copies the field behind flag name from src to dst.
func applyFlag(dst, src *config.Config, name string) {
	switch name {
	case "instrument":
		dst.Instrument = src.Instrument
	case "filter":
		dst.Filter = src.Filter
	case "mask":
		dst.Mask = src.Mask
	case "aperture":
		dst.Aperture = src.Aperture
	case "siaf":
		dst.SIAFFile = src.SIAFFile
	case "opd":
		dst.OPDFile = src.OPDFile
	case "npix":
		dst.NPix = src.NPix
	case "oversample":
		dst.Oversample = src.Oversample
	case "coron-oversample":
		dst.CoronOversample = src.CoronOversample
	case "fov":
		dst.FOVPixels = src.FOVPixels
	case "nlambda":
		dst.NLambda = src.NLambda
	case "wavelength":
		dst.Wavelengths = src.Wavelengths
	case "weight":
		dst.Weights = src.Weights
	case "sptype":
		dst.SpectralType = src.SpectralType
	case "temperature":
		dst.Temperature = src.Temperature
	case "strategy":
		dst.Strategy = src.Strategy
	case "no-sam":
		dst.DisableSemiAnalytic = src.DisableSemiAnalytic
	case "o":
		dst.Output = src.Output
	case "display":
		dst.DisplayPath = src.DisplayPath
	case "catalog":
		dst.Catalog = src.Catalog
	case "parallel":
		dst.Parallel.UseMultiprocessing = src.Parallel.UseMultiprocessing
	case "fft-threads":
		dst.Parallel.UseFFTThreads = src.Parallel.UseFFTThreads
	case "workers":
		dst.Parallel.Workers = src.Parallel.Workers
	case "memory-limit":
		dst.Parallel.MemoryLimitBytes = src.Parallel.MemoryLimitBytes
	case "fft":
		dst.Parallel.FFTAvailable = src.Parallel.FFTAvailable
	case "q":
		dst.Quiet = src.Quiet
	case "profile":
		dst.EnableProfiling = src.EnableProfiling
	}
}
