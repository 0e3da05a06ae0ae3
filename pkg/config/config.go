package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kacperjurak/gopsf"
)

// ArrayFlags collects repeated float flags, e.g. -wavelength 2e-6 -wavelength 2.1e-6.
type ArrayFlags []float64

func (a *ArrayFlags) String() string {
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (a *ArrayFlags) Set(value string) error {
	if val, err := strconv.ParseFloat(value, 64); err == nil {
		*a = append(*a, val)
		return nil
	} else {
		return err
	}
}

// ParallelConfig is the scheduler configuration of one calculation.
type ParallelConfig struct {
	// UseMultiprocessing spreads wavelengths over a worker pool.
	UseMultiprocessing bool `yaml:"use_multiprocessing"`
	// UseFFTThreads splits each FFT over goroutines. It cannot be combined
	// with UseMultiprocessing.
	UseFFTThreads bool `yaml:"use_fft_threads"`
	// FFTAvailable reports whether the FFT strategy may be used at all.
	FFTAvailable bool `yaml:"fft_available"`
	FFTThreads   int  `yaml:"fft_threads"`
	// Workers is an explicit worker count; 0 picks one from CPUs and memory.
	Workers          int     `yaml:"workers"`
	SafetyFactor     float64 `yaml:"safety_factor"`
	MemoryLimitBytes uint64  `yaml:"memory_limit_bytes"`
	// Display requests intermediate-plane snapshots.
	Display bool `yaml:"display"`
}

// Config holds all settings of a PSF calculation.
type Config struct {
	Instrument string `yaml:"instrument"`
	Filter     string `yaml:"filter"`
	Mask       string `yaml:"mask"`
	Aperture   string `yaml:"aperture"`
	SIAFFile   string `yaml:"siaf_file"`
	OPDFile    string `yaml:"opd_file"`

	NPix int `yaml:"npix"`
	// Oversample is the detector oversampling; CoronOversample the sampling of
	// intermediate occulter planes.
	Oversample      int        `yaml:"oversample"`
	CoronOversample int        `yaml:"coron_oversample"`
	FOVPixels       int        `yaml:"fov_pixels"`
	NLambda         int        `yaml:"nlambda"`
	Wavelengths     ArrayFlags `yaml:"wavelengths"`
	// Weights pairs with Wavelengths; empty means equal weights.
	Weights ArrayFlags `yaml:"weights"`

	SpectralType string  `yaml:"spectral_type"`
	Temperature  float64 `yaml:"temperature"`

	Strategy            string `yaml:"strategy"`
	DisableSemiAnalytic bool   `yaml:"disable_semi_analytic"`

	Output      string `yaml:"output"`
	DisplayPath string `yaml:"display_path"`
	Catalog     string `yaml:"catalog"`

	Parallel ParallelConfig `yaml:"parallel"`

	Quiet           bool `yaml:"quiet"`
	EnableProfiling bool `yaml:"enable_profiling"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string
	WorkerCount     int
	WebhookURL      string
	OutputDir       string
	CatalogPath     string
	EnableMetrics   bool
	EnableProfiling bool
	ProfilingPort   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instrument:      "NIRCam",
		Filter:          "F200W",
		NPix:            256,
		Oversample:      4,
		CoronOversample: 2,
		FOVPixels:       64,
		SpectralType:    "G2V",
		Strategy:        "auto",
		Output:          "psf.fits",
		Parallel:        DefaultParallelConfig(),
	}
}

// DefaultParallelConfig runs sequentially with the FFT strategy enabled.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		FFTAvailable: true,
		SafetyFactor: 0.8,
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     2,
		WebhookURL:      "",
		OutputDir:       "psf-output",
		CatalogPath:     "psf-catalog.db",
		EnableMetrics:   true,
		EnableProfiling: false,
		ProfilingPort:   "6060",
	}
}

// Load reads a YAML config file on top of DefaultConfig, applies defaults to
// zeroed fields and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NPix == 0 {
		c.NPix = 256
	}
	if c.Oversample == 0 {
		c.Oversample = 4
	}
	if c.CoronOversample == 0 {
		c.CoronOversample = 2
	}
	if c.FOVPixels == 0 {
		c.FOVPixels = 64
	}
	if c.Strategy == "" {
		c.Strategy = "auto"
	}
	if c.Parallel.SafetyFactor == 0 {
		c.Parallel.SafetyFactor = 0.8
	}
}

// Validate checks the configuration and reports every problem at once.
// Conflicting parallelism flags are reported as gopsf.ErrParallelConflict.
func (c *Config) Validate() error {
	if err := c.Parallel.Validate(); err != nil {
		return err
	}

	var problems []string
	if c.Instrument == "" {
		problems = append(problems, "instrument is required")
	}
	if c.NPix < 2 {
		problems = append(problems, "npix must be at least 2")
	}
	if c.Oversample < 1 {
		problems = append(problems, "oversample must be positive")
	}
	if c.CoronOversample < 1 {
		problems = append(problems, "coron_oversample must be positive")
	}
	if c.FOVPixels < 1 {
		problems = append(problems, "fov_pixels must be positive")
	}
	if c.NLambda < 0 {
		problems = append(problems, "nlambda must not be negative")
	}
	for _, l := range c.Wavelengths {
		if l <= 0 {
			problems = append(problems, fmt.Sprintf("wavelength %g must be positive", l))
		}
	}
	if len(c.Weights) > 0 && len(c.Weights) != len(c.Wavelengths) {
		problems = append(problems, fmt.Sprintf("%d weights for %d wavelengths", len(c.Weights), len(c.Wavelengths)))
	}
	if c.Temperature < 0 {
		problems = append(problems, "temperature must not be negative")
	}
	if _, err := gopsf.ParseStrategy(c.Strategy); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &gopsf.ConfigurationError{
			Element: "config",
			Err:     fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, problems),
		}
	}
	return nil
}

// Validate rejects mutually exclusive or out-of-range scheduler settings.
func (p ParallelConfig) Validate() error {
	if p.UseMultiprocessing && p.UseFFTThreads {
		return &gopsf.ConfigurationError{
			Element: "parallel",
			Err:     fmt.Errorf("%w: use_multiprocessing and use_fft_threads are both set", gopsf.ErrParallelConflict),
		}
	}
	var problems []string
	if p.Workers < 0 {
		problems = append(problems, "workers must not be negative")
	}
	if p.FFTThreads < 0 {
		problems = append(problems, "fft_threads must not be negative")
	}
	if p.SafetyFactor < 0 || p.SafetyFactor > 1 {
		problems = append(problems, "safety_factor must be within [0, 1]")
	}
	if len(problems) > 0 {
		return &gopsf.ConfigurationError{
			Element: "parallel",
			Err:     fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, problems),
		}
	}
	return nil
}

// PropagateOptions maps the configuration onto propagation options.
func (c *Config) PropagateOptions() (gopsf.PropagateOptions, error) {
	kind, err := gopsf.ParseStrategy(c.Strategy)
	if err != nil {
		return gopsf.PropagateOptions{}, err
	}
	opts := gopsf.PropagateOptions{
		FFTAvailable:        c.Parallel.FFTAvailable,
		ForceStrategy:       kind,
		DisableSemiAnalytic: c.DisableSemiAnalytic,
	}
	if c.Parallel.UseFFTThreads {
		opts.FFTThreads = c.Parallel.FFTThreads
	}
	return opts, nil
}
