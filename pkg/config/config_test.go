package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kacperjurak/gopsf"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "psf.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
instrument: MIRI
filter: F1065C
mask: FQPM1065
nlambda: 5
oversample: 2
parallel:
  use_multiprocessing: true
  workers: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instrument != "MIRI" || cfg.Filter != "F1065C" || cfg.Mask != "FQPM1065" {
		t.Errorf("instrument fields = %q %q %q", cfg.Instrument, cfg.Filter, cfg.Mask)
	}
	if cfg.Oversample != 2 || cfg.NLambda != 5 {
		t.Errorf("Oversample = %d, NLambda = %d", cfg.Oversample, cfg.NLambda)
	}
	if cfg.NPix != 256 || cfg.FOVPixels != 64 {
		t.Errorf("defaults not kept: NPix = %d, FOVPixels = %d", cfg.NPix, cfg.FOVPixels)
	}
	if !cfg.Parallel.UseMultiprocessing || cfg.Parallel.Workers != 3 {
		t.Errorf("parallel = %+v", cfg.Parallel)
	}
	if !cfg.Parallel.FFTAvailable || cfg.Parallel.SafetyFactor != 0.8 {
		t.Errorf("parallel defaults lost: %+v", cfg.Parallel)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/path/psf.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "instrument: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_ParallelConflict(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
parallel:
  use_multiprocessing: true
  use_fft_threads: true
`)
	_, err := Load(path)
	var cfgErr *gopsf.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *gopsf.ConfigurationError", err)
	}
	if !errors.Is(err, gopsf.ErrParallelConflict) {
		t.Errorf("err = %v, want ErrParallelConflict", err)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Instrument = ""
	cfg.Oversample = -1
	cfg.Strategy = "warp"
	cfg.Wavelengths = ArrayFlags{-1}
	err := cfg.Validate()
	if !errors.Is(err, gopsf.ErrInvalidSystem) {
		t.Fatalf("err = %v, want ErrInvalidSystem", err)
	}
	for _, want := range []string{"instrument is required", "oversample must be positive", "warp", "wavelength -1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestParallelValidate_SafetyFactor(t *testing.T) {
	p := DefaultParallelConfig()
	p.SafetyFactor = 1.5
	if err := p.Validate(); !errors.Is(err, gopsf.ErrInvalidSystem) {
		t.Fatalf("err = %v, want ErrInvalidSystem", err)
	}
}

func TestArrayFlags(t *testing.T) {
	var wl ArrayFlags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&wl, "wavelength", "wavelength in metres")
	if err := fs.Parse([]string{"-wavelength", "2e-6", "-wavelength", "2.1e-6"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(wl) != 2 || wl[0] != 2e-6 || wl[1] != 2.1e-6 {
		t.Errorf("wavelengths = %v", wl)
	}
	if wl.String() != "2e-06,2.1e-06" {
		t.Errorf("String() = %q", wl.String())
	}
	if err := wl.Set("blue"); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

func TestPropagateOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "mft"
	cfg.Parallel.UseFFTThreads = true
	cfg.Parallel.FFTThreads = 4
	opts, err := cfg.PropagateOptions()
	if err != nil {
		t.Fatalf("PropagateOptions: %v", err)
	}
	if opts.ForceStrategy != gopsf.MatrixDFT || opts.FFTThreads != 4 || !opts.FFTAvailable {
		t.Errorf("opts = %+v", opts)
	}
}
