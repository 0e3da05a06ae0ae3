package gopsf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PSFResult is a finished calculation. It is created once and never modified
// by the package afterwards.
type PSFResult struct {
	ID         string
	Instrument string
	Filter     string
	Mask       string
	// Oversampled is the PSF on the detector grid sampled Oversample times
	// finer than the detector pixels; Detector is it binned to detector pixels.
	Oversampled *mat.Dense
	Detector    *mat.Dense
	Oversample  int
	// PixelScale is the detector pixel scale in arcsec.
	PixelScale  float64
	Wavelengths []float64
	Weights     []float64
	Strategies  []Strategy
	Notices     []Notice
}

// NewPSFResult assembles a result from an integration on a system whose last
// element is det.
func NewPSFResult(in *Integration, det *Detector) (*PSFResult, error) {
	if in == nil || in.PSF == nil {
		return nil, fmt.Errorf("empty integration")
	}
	binned, err := Rebin(in.PSF, det.oversample())
	if err != nil {
		return nil, err
	}
	return &PSFResult{
		Oversampled: in.PSF,
		Detector:    binned,
		Oversample:  det.oversample(),
		PixelScale:  det.PixelScale,
		Wavelengths: append([]float64(nil), in.Spectrum.Wavelengths...),
		Weights:     append([]float64(nil), in.Spectrum.Weights...),
		Strategies:  in.Plan.Strategies(),
		Notices:     append([]Notice(nil), in.Notices...),
	}, nil
}

// TotalFlux returns the sum of the oversampled image.
func (r *PSFResult) TotalFlux() float64 { return mat.Sum(r.Oversampled) }

// Rebin sums factor×factor blocks, conserving flux.
func Rebin(m mat.Matrix, factor int) (*mat.Dense, error) {
	if factor < 1 {
		return nil, fmt.Errorf("%w: rebin factor %d", ErrInvalidSampling, factor)
	}
	r, c := m.Dims()
	if r%factor != 0 || c%factor != 0 {
		return nil, fmt.Errorf("%w: %dx%d is not divisible by %d", ErrInvalidSampling, r, c, factor)
	}
	out := mat.NewDense(r/factor, c/factor, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i/factor, j/factor, out.At(i/factor, j/factor)+m.At(i, j))
		}
	}
	return out, nil
}
