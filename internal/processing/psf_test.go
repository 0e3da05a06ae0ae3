package processing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/fits"
	"github.com/kacperjurak/gopsf/pkg/models"
	"github.com/kacperjurak/gopsf/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NPix = 32
	cfg.FOVPixels = 16
	cfg.Oversample = 2
	cfg.Wavelengths = config.ArrayFlags{1.9e-6, 2.0e-6, 2.1e-6}
	cfg.Output = filepath.Join(t.TempDir(), "out", "psf.fits")
	cfg.Quiet = true
	return cfg
}

func openCatalog(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProcessWritesAndCatalogues(t *testing.T) {
	catalog := openCatalog(t)
	p := NewPSFProcessor(Options{Logger: testLogger(), Catalog: catalog})
	cfg := smallConfig(t)

	out, err := p.Process(context.Background(), "calc-1", cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r, c := out.Result.Oversampled.Dims(); r != 32 || c != 32 {
		t.Errorf("oversampled dims = %dx%d", r, c)
	}
	if r, c := out.Result.Detector.Dims(); r != 16 || c != 16 {
		t.Errorf("detector dims = %dx%d", r, c)
	}
	if out.Result.Instrument != "NIRCam" || out.Result.Filter != "F200W" || out.Result.ID != "calc-1" {
		t.Errorf("metadata = %s/%s/%s", out.Result.ID, out.Result.Instrument, out.Result.Filter)
	}
	if !out.Summary.FitSucceeded || out.Summary.FWHM <= 0 {
		t.Errorf("summary = %+v", out.Summary)
	}

	hdus, err := fits.ReadFile(cfg.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(hdus) != 2 || hdus[1].Name() != "DET_SAMP" {
		t.Fatalf("output HDUs = %d", len(hdus))
	}
	if n, _ := hdus[0].Header.Int("NWAVES"); n != 3 {
		t.Errorf("NWAVES = %d", n)
	}

	rec, err := catalog.Get(context.Background(), "calc-1")
	if err != nil {
		t.Fatalf("catalog.Get: %v", err)
	}
	if rec.Status != "completed" || rec.FITSPath != cfg.Output || len(rec.Wavelengths) != 3 {
		t.Errorf("catalog record = %+v", rec)
	}
	if !scalar.EqualWithinRel(rec.TotalFlux, out.Result.TotalFlux(), 1e-12) {
		t.Errorf("catalogued flux %g, result %g", rec.TotalFlux, out.Result.TotalFlux())
	}

	resp := out.Response()
	if resp.Status != "completed" || resp.Workers != 1 || len(resp.Strategies) == 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestProcessWorkerPoolMatchesSequential(t *testing.T) {
	p := NewPSFProcessor(Options{Logger: testLogger()})
	seqCfg := smallConfig(t)
	seqCfg.Output = ""
	seq, err := p.Process(context.Background(), "seq", seqCfg)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}

	poolCfg := smallConfig(t)
	poolCfg.Output = ""
	poolCfg.Parallel.UseMultiprocessing = true
	poolCfg.Parallel.Workers = 2
	pool, err := p.Process(context.Background(), "pool", poolCfg)
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	if pool.Plan.Workers < 1 {
		t.Fatalf("planned workers = %d", pool.Plan.Workers)
	}
	if !mat.EqualApprox(seq.Result.Oversampled, pool.Result.Oversampled, 1e-12) {
		t.Error("worker pool PSF differs from sequential PSF")
	}
}

func TestProcessDisplaySnapshots(t *testing.T) {
	p := NewPSFProcessor(Options{Logger: testLogger()})
	cfg := smallConfig(t)
	cfg.Output = ""
	cfg.Wavelengths = config.ArrayFlags{2e-6}
	cfg.Parallel.Display = true
	cfg.DisplayPath = t.TempDir()

	out, err := p.Process(context.Background(), "snap", cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// pupil and detector
	if len(out.Snapshots) != 2 {
		t.Errorf("snapshots = %v", out.Snapshots)
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   error
	}{
		{"phase mask", func(c *config.Config) { c.Instrument = "MIRI"; c.Filter = "F1000W"; c.Mask = "FQPM1065" }, gopsf.ErrUnsupportedOcculter},
		{"parallel conflict", func(c *config.Config) {
			c.Parallel.UseMultiprocessing = true
			c.Parallel.UseFFTThreads = true
		}, gopsf.ErrParallelConflict},
		{"unknown instrument", func(c *config.Config) { c.Instrument = "WFC3" }, gopsf.ErrInvalidSystem},
		{"missing OPD", func(c *config.Config) { c.OPDFile = "/nonexistent/opd.fits" }, gopsf.ErrInvalidSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := openCatalog(t)
			p := NewPSFProcessor(Options{Logger: testLogger(), Catalog: catalog})
			cfg := smallConfig(t)
			tt.modify(cfg)
			_, err := p.Process(context.Background(), "bad", cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsClientError(err) {
				t.Errorf("%v not classed as a client error", err)
			}
			rec, err := catalog.Get(context.Background(), "bad")
			if err != nil {
				t.Fatalf("catalog.Get: %v", err)
			}
			if rec.Status != "failed" || rec.Error == "" {
				t.Errorf("record = %+v", rec)
			}
		})
	}
}

func TestConfigFromRequest(t *testing.T) {
	base := config.DefaultConfig()
	base.Wavelengths = config.ArrayFlags{1e-6}
	base.Parallel.Display = true
	req := models.CalculationRequest{
		Instrument:         "MIRI",
		Filter:             "F770W",
		Oversample:         3,
		UseMultiprocessing: true,
		Workers:            2,
		Source:             models.SourceSpec{Wavelengths: []float64{7e-6, 8e-6}, Weights: []float64{1, 3}},
	}
	cfg := ConfigFromRequest(base, req, "abc", "/data/psf")
	if cfg.Instrument != "MIRI" || cfg.Oversample != 3 || cfg.NPix != base.NPix {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Wavelengths) != 2 || cfg.Weights[1] != 3 {
		t.Errorf("source = %v / %v", cfg.Wavelengths, cfg.Weights)
	}
	if cfg.Output != filepath.Join("/data/psf", "abc.fits") {
		t.Errorf("output = %q", cfg.Output)
	}
	if cfg.Parallel.Display || !cfg.Parallel.UseMultiprocessing {
		t.Errorf("parallel = %+v", cfg.Parallel)
	}
	if len(base.Wavelengths) != 1 || base.Instrument != "NIRCam" {
		t.Error("base config was modified")
	}
}

func TestProcessorFuncReportsFailure(t *testing.T) {
	fn := NewPSFProcessor(Options{Logger: testLogger()}).ProcessorFunc()
	cfg := smallConfig(t)
	cfg.Instrument = "nope"
	resp, err := fn(context.Background(), "x", cfg)
	if err == nil || resp.Status != "failed" || resp.Error == "" {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}
}
