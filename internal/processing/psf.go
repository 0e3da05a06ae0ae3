package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/internal/metrics"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/display"
	"github.com/kacperjurak/gopsf/pkg/fits"
	"github.com/kacperjurak/gopsf/pkg/instrument"
	"github.com/kacperjurak/gopsf/pkg/measure"
	"github.com/kacperjurak/gopsf/pkg/models"
	"github.com/kacperjurak/gopsf/pkg/scheduler"
	"github.com/kacperjurak/gopsf/pkg/store"
	"github.com/kacperjurak/gopsf/pkg/worker"
)

// PSFProcessor runs complete calculations: it resolves the instrument,
// schedules the wavelengths, integrates, measures and persists the result.
type PSFProcessor struct {
	logger  *slog.Logger
	catalog *store.Store
	profile bool
}

// Options holds configuration for creating a new processor
type Options struct {
	Logger *slog.Logger
	// Catalog, when set, records every calculation.
	Catalog         *store.Store
	EnableProfiling bool
}

// NewPSFProcessor creates a new PSF processor
func NewPSFProcessor(opts Options) *PSFProcessor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PSFProcessor{logger: opts.Logger, catalog: opts.Catalog, profile: opts.EnableProfiling}
}

// Outcome is everything a calculation produced.
type Outcome struct {
	ID        string
	Result    *gopsf.PSFResult
	Summary   measure.Summary
	System    *instrument.System
	Plan      *scheduler.ProcessPlan
	Output    string
	Snapshots []string
	Elapsed   time.Duration
}

// Process runs one calculation described by cfg.
func (p *PSFProcessor) Process(ctx context.Context, id string, cfg *config.Config) (*Outcome, error) {
	start := time.Now()
	logger := p.logger.With("calc_id", id)

	out, err := p.process(ctx, logger, id, cfg)
	elapsed := time.Since(start)
	metrics.ObserveCalculation(cfg.Instrument, elapsed, err)

	if err != nil {
		logger.Error("❌ calculation failed", "instrument", cfg.Instrument, "error", err)
		p.record(ctx, logger, failedRecord(id, cfg, err, elapsed))
		return nil, err
	}
	out.Elapsed = elapsed
	p.record(ctx, logger, out.record())

	if !cfg.Quiet {
		logger.Info("✅ calculation completed",
			"system", out.System.Describe(),
			"wavelengths", len(out.Result.Wavelengths),
			"workers", out.Plan.Workers,
			"fwhm_arcsec", out.Summary.FWHM,
			"ee50_arcsec", out.Summary.EE50,
			"elapsed", elapsed)
	}
	return out, nil
}

func (p *PSFProcessor) process(ctx context.Context, logger *slog.Logger, id string, cfg *config.Config) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opd *instrument.OPD
	if cfg.OPDFile != "" {
		data, scale, err := fits.ReadOPD(cfg.OPDFile)
		if err != nil {
			return nil, &gopsf.ConfigurationError{Element: "OPD", Err: fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, err)}
		}
		opd = &instrument.OPD{Data: data, PixelScale: scale}
		logger.Debug("📥 OPD loaded", "path", cfg.OPDFile, "pixel_scale", scale)
	}

	sys, err := instrument.Build(cfg, opd)
	if err != nil {
		return nil, err
	}
	sp, err := sys.Spectrum(cfg)
	if err != nil {
		return nil, err
	}

	plan, err := scheduler.PlanFor(sys.Optical, sp.Len(), cfg.Parallel)
	if err != nil {
		return nil, err
	}
	plan.Log(logger)
	metrics.SetPlannedWorkers(plan.Workers)

	popts, err := cfg.PropagateOptions()
	if err != nil {
		return nil, &gopsf.ConfigurationError{Element: "strategy", Err: fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, err)}
	}
	popts.Logger = logger
	if plan.Mode == scheduler.ThreadedFFT {
		popts.FFTThreads = plan.FFTThreads
	}

	var recorder *display.Recorder
	if plan.DisplayEnabled && cfg.DisplayPath != "" {
		recorder, err = display.NewRecorder(filepath.Join(cfg.DisplayPath, id), display.Options{}, logger)
		if err != nil {
			return nil, err
		}
		popts.Observer = recorder.Observe
	}

	var exec gopsf.Executor = gopsf.Sequential{}
	if plan.Mode == scheduler.WorkerPool {
		exec = worker.FromPlan(plan, logger, p.profile)
	}

	logger.Info("🔥 calculation started", "system", sys.Describe(), "wavelengths", sp.Len(), "mode", plan.Mode.String())
	in, err := gopsf.Integrate(ctx, sys.Optical, sp, gopsf.IntegrateOptions{
		Propagate: popts,
		Executor:  exec,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	res, err := gopsf.NewPSFResult(in, sys.Detector)
	if err != nil {
		return nil, err
	}
	res.ID = id
	res.Instrument = sys.Instrument.Name
	res.Filter = sys.Filter.Name
	if sys.Mask != nil {
		res.Mask = sys.Mask.Name
	}
	res.Notices = append(append([]gopsf.Notice(nil), plan.Notices...), res.Notices...)
	for _, st := range res.Strategies {
		metrics.CountStrategy(st.Kind.String())
	}
	for _, n := range res.Notices {
		metrics.CountNotice(string(n.Kind))
	}

	summary, err := measure.Measure(res.Oversampled, res.PixelScale/float64(res.Oversample), measure.FitOptions{})
	if err != nil {
		// a dark image (fully occulted) still produces a result
		logger.Warn("⚠️ PSF measurement failed", "error", err)
	}

	out := &Outcome{ID: id, Result: res, Summary: summary, System: sys, Plan: plan}
	if recorder != nil {
		if err := recorder.Err(); err != nil {
			logger.Warn("⚠️ plane snapshots incomplete", "error", err)
		}
		out.Snapshots = recorder.Files()
	}

	if cfg.Output != "" {
		if dir := filepath.Dir(cfg.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create output directory: %w", err)
			}
		}
		if err := fits.WritePSF(cfg.Output, res); err != nil {
			return nil, fmt.Errorf("write PSF: %w", err)
		}
		out.Output = cfg.Output
		logger.Info("💾 PSF written", "path", cfg.Output)
	}
	return out, nil
}

func (p *PSFProcessor) record(ctx context.Context, logger *slog.Logger, r *store.Record) {
	if p.catalog == nil {
		return
	}
	// the catalog write must not be lost to a cancelled request
	ctx = context.WithoutCancel(ctx)
	if err := p.catalog.Save(ctx, r); err != nil {
		logger.Warn("⚠️ catalog write failed", "error", err)
	}
}

func (o *Outcome) record() *store.Record {
	r := &store.Record{
		ID:          o.ID,
		Instrument:  o.Result.Instrument,
		Filter:      o.Result.Filter,
		Mask:        o.Result.Mask,
		Status:      "completed",
		FITSPath:    o.Output,
		TotalFlux:   o.Result.TotalFlux(),
		FWHM:        o.Summary.FWHM,
		EE50:        o.Summary.EE50,
		Workers:     o.Plan.Workers,
		Elapsed:     o.Elapsed,
		Wavelengths: o.Result.Wavelengths,
		Weights:     o.Result.Weights,
	}
	for _, s := range o.Result.Strategies {
		r.Strategies = append(r.Strategies, s.String())
	}
	for _, n := range o.Result.Notices {
		r.Notices = append(r.Notices, n.String())
	}
	return r
}

func failedRecord(id string, cfg *config.Config, err error, elapsed time.Duration) *store.Record {
	return &store.Record{
		ID:         id,
		Instrument: cfg.Instrument,
		Filter:     cfg.Filter,
		Mask:       cfg.Mask,
		Status:     "failed",
		Error:      err.Error(),
		Elapsed:    elapsed,
	}
}

// Response converts an outcome to its API form.
func (o *Outcome) Response() models.CalculationResponse {
	r := o.Result
	resp := models.CalculationResponse{
		ID:              o.ID,
		Status:          "completed",
		Instrument:      r.Instrument,
		Filter:          r.Filter,
		Mask:            r.Mask,
		Oversample:      r.Oversample,
		PixelScale:      r.PixelScale,
		Wavelengths:     r.Wavelengths,
		Weights:         r.Weights,
		Workers:         o.Plan.Workers,
		TotalFlux:       r.TotalFlux(),
		FWHM:            o.Summary.FWHM,
		EE50:            o.Summary.EE50,
		Output:          o.Output,
		ProcessingTime:  float64(o.Elapsed.Microseconds()) / 1000,
		ApertureV2V3Ref: o.System.V2V3Ref(),
	}
	for _, s := range r.Strategies {
		resp.Strategies = append(resp.Strategies, s.String())
	}
	for _, n := range r.Notices {
		resp.Notices = append(resp.Notices, models.NoticeView{Kind: string(n.Kind), Message: n.Message})
	}
	return resp
}

// FailedResponse is the API form of a failed calculation.
func FailedResponse(id string, cfg *config.Config, err error) models.CalculationResponse {
	return models.CalculationResponse{
		ID:         id,
		Status:     "failed",
		Instrument: cfg.Instrument,
		Filter:     cfg.Filter,
		Mask:       cfg.Mask,
		Error:      err.Error(),
	}
}

// IsClientError reports whether err stems from the request rather than the
// machine.
func IsClientError(err error) bool {
	var cfgErr *gopsf.ConfigurationError
	return errors.As(err, &cfgErr)
}

// ConfigFromRequest overlays a request on a copy of base. The output path is
// placed in outputDir under the calculation id.
func ConfigFromRequest(base *config.Config, req models.CalculationRequest, id, outputDir string) *config.Config {
	cfg := *base
	cfg.Wavelengths = nil
	cfg.Weights = nil
	cfg.Instrument = req.Instrument
	cfg.Filter = req.Filter
	cfg.Mask = req.Mask
	cfg.Aperture = req.Aperture
	if req.Oversample > 0 {
		cfg.Oversample = req.Oversample
	}
	if req.FOVPixels > 0 {
		cfg.FOVPixels = req.FOVPixels
	}
	if req.NPix > 0 {
		cfg.NPix = req.NPix
	}
	cfg.NLambda = req.NLambda
	if req.Strategy != "" {
		cfg.Strategy = req.Strategy
	}
	cfg.DisableSemiAnalytic = req.DisableSemiAnalytic
	cfg.Parallel.UseMultiprocessing = req.UseMultiprocessing
	cfg.Parallel.UseFFTThreads = req.UseFFTThreads
	cfg.Parallel.Workers = req.Workers
	// snapshots are a CLI feature
	cfg.Parallel.Display = false
	cfg.DisplayPath = ""

	cfg.SpectralType = req.Source.SpectralType
	cfg.Temperature = req.Source.Temperature
	cfg.Wavelengths = append(config.ArrayFlags(nil), req.Source.Wavelengths...)
	cfg.Weights = append(config.ArrayFlags(nil), req.Source.Weights...)

	cfg.Output = ""
	if outputDir != "" {
		cfg.Output = filepath.Join(outputDir, id+".fits")
	}
	return &cfg
}

// ProcessorFunc adapts the processor to the HTTP handlers.
func (p *PSFProcessor) ProcessorFunc() func(ctx context.Context, id string, cfg *config.Config) (models.CalculationResponse, error) {
	return func(ctx context.Context, id string, cfg *config.Config) (models.CalculationResponse, error) {
		out, err := p.Process(ctx, id, cfg)
		if err != nil {
			return FailedResponse(id, cfg, err), err
		}
		return out.Response(), nil
	}
}
