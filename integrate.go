package gopsf

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TaskFunc computes the monochromatic PSF for wavelength index i.
type TaskFunc func(ctx context.Context, i int) (*mat.Dense, error)

// Executor evaluates a TaskFunc for indices 0..n-1 and returns the results by
// index. An implementation must fail the whole map when any task fails.
type Executor interface {
	Map(ctx context.Context, n int, fn TaskFunc) ([]*mat.Dense, error)
}

// Sequential evaluates tasks one after another on the calling goroutine.
type Sequential struct{}

func (Sequential) Map(ctx context.Context, n int, fn TaskFunc) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		psf, err := fn(ctx, i)
		if err != nil {
			return nil, err
		}
		out[i] = psf
	}
	return out, nil
}

// IntegrateOptions configures a broadband calculation.
type IntegrateOptions struct {
	Propagate PropagateOptions
	// Executor defaults to Sequential.
	Executor Executor
	Logger   *slog.Logger
}

// Integration is the outcome of Integrate.
type Integration struct {
	PSF           *mat.Dense
	Monochromatic []*mat.Dense
	Spectrum      Spectrum
	Plan          *SystemPlan
	Notices       []Notice
	Elapsed       time.Duration
}

// Integrate propagates every wavelength of spectrum and sums the intensities
// weighted by the normalised spectrum weights. Accumulation runs in wavelength
// order after all tasks finish, so the result does not depend on the executor.
func Integrate(ctx context.Context, system *OpticalSystem, spectrum Spectrum, opts IntegrateOptions) (*Integration, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := spectrum.Validate(); err != nil {
		return nil, err
	}
	popts := opts.Propagate
	if popts.Logger == nil {
		popts.Logger = logger
	}
	plan, err := system.Plan(popts)
	if err != nil {
		return nil, err
	}
	for _, n := range plan.Notices {
		logger.Warn("⚠️ strategy notice", "system", system.Name, "kind", n.Kind, "message", n.Message)
	}

	exec := opts.Executor
	if exec == nil {
		exec = Sequential{}
	}
	sp := spectrum.Normalized()
	start := time.Now()
	logger.Info("🚀 integrating",
		"system", system.Name,
		"wavelengths", sp.Len(),
		"strategies", plan.Describe())

	mono, err := exec.Map(ctx, sp.Len(), func(ctx context.Context, i int) (*mat.Dense, error) {
		psf, err := plan.Propagate(ctx, sp.Wavelengths[i])
		if err != nil && ctx.Err() == nil {
			return nil, &WavelengthError{Wavelength: sp.Wavelengths[i], Err: err}
		}
		return psf, err
	})
	if err != nil {
		return nil, err
	}
	psf, err := Accumulate(mono, sp.Weights)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	logger.Info("✅ integrated", "system", system.Name, "elapsed", elapsed)
	return &Integration{
		PSF:           psf,
		Monochromatic: mono,
		Spectrum:      sp,
		Plan:          plan,
		Notices:       append([]Notice(nil), plan.Notices...),
		Elapsed:       elapsed,
	}, nil
}

// Accumulate returns Σ weights[i]·mono[i], summed in index order.
func Accumulate(mono []*mat.Dense, weights []float64) (*mat.Dense, error) {
	if len(mono) == 0 || len(mono) != len(weights) {
		return nil, configErr("", 0, ErrInvalidSpectrum, "%d images for %d weights", len(mono), len(weights))
	}
	r, c := mono[0].Dims()
	sum := make([]float64, r*c)
	for i, m := range mono {
		if m == nil {
			return nil, configErr("", 0, ErrInvalidSpectrum, "missing image #%d", i)
		}
		mr, mc := m.Dims()
		if mr != r || mc != c {
			return nil, configErr("", 0, ErrInvalidSampling, "image #%d is %dx%d, want %dx%d", i, mr, mc, r, c)
		}
		floats.AddScaled(sum, weights[i], mat.DenseCopyOf(m).RawMatrix().Data)
	}
	return mat.NewDense(r, c, sum), nil
}
