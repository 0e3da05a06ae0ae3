// Package measure derives image-quality figures from a PSF: centroid,
// encircled energy and the FWHM of a fitted circular Gaussian.
package measure

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// fwhmPerSigma converts a Gaussian sigma to its full width at half maximum.
var fwhmPerSigma = 2 * math.Sqrt(2*math.Ln2)

var ErrEmptyImage = errors.New("image has no flux")

// Centroid returns the flux-weighted mean position (row, column).
func Centroid(img mat.Matrix) (float64, float64, error) {
	r, c := img.Dims()
	var sum, sy, sx float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := img.At(i, j)
			sum += v
			sy += v * float64(i)
			sx += v * float64(j)
		}
	}
	if sum <= 0 {
		return 0, 0, ErrEmptyImage
	}
	return sy / sum, sx / sum, nil
}

// Peak returns the brightest pixel and its position.
func Peak(img mat.Matrix) (value float64, row, col int) {
	r, c := img.Dims()
	value = math.Inf(-1)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := img.At(i, j); v > value {
				value, row, col = v, i, j
			}
		}
	}
	return value, row, col
}

type radial struct {
	r, v float64
}

func profile(img mat.Matrix, cy, cx float64) ([]radial, float64) {
	r, c := img.Dims()
	out := make([]radial, 0, r*c)
	var total float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := img.At(i, j)
			total += v
			out = append(out, radial{math.Hypot(float64(i)-cy, float64(j)-cx), v})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].r < out[b].r })
	return out, total
}

// EncircledEnergy returns the fraction of the total flux in pixels whose
// centres lie within radius pixels of (cy, cx).
func EncircledEnergy(img mat.Matrix, cy, cx, radius float64) (float64, error) {
	prof, total := profile(img, cy, cx)
	if total <= 0 {
		return 0, ErrEmptyImage
	}
	var in float64
	for _, p := range prof {
		if p.r > radius {
			break
		}
		in += p.v
	}
	return in / total, nil
}

// EncircledEnergyRadius returns the radius in pixels enclosing frac of the
// total flux, interpolated between pixel centres.
func EncircledEnergyRadius(img mat.Matrix, cy, cx, frac float64) (float64, error) {
	if frac <= 0 || frac > 1 {
		return 0, fmt.Errorf("encircled energy fraction %g outside (0, 1]", frac)
	}
	prof, total := profile(img, cy, cx)
	if total <= 0 {
		return 0, ErrEmptyImage
	}
	target := frac * total
	var cum, prevR, prevCum float64
	for _, p := range prof {
		cum += p.v
		if cum >= target {
			if cum == prevCum {
				return p.r, nil
			}
			return prevR + (p.r-prevR)*(target-prevCum)/(cum-prevCum), nil
		}
		prevR, prevCum = p.r, cum
	}
	return prof[len(prof)-1].r, nil
}

// Method names a Gaussian fitting algorithm.
type Method string

const (
	LevenbergMarquardt Method = "lm"
	NelderMead         Method = "nm"
	LBFGS              Method = "lbfgs"
)

// Gaussian is a circular 2-D Gaussian on a constant background. Positions
// and Sigma are in pixels.
type Gaussian struct {
	Amplitude  float64
	Row, Col   float64
	Sigma      float64
	Background float64
	Method     Method
}

func (g Gaussian) FWHM() float64 { return fwhmPerSigma * math.Abs(g.Sigma) }

func (g Gaussian) at(i, j float64) float64 {
	d2 := (i-g.Row)*(i-g.Row) + (j-g.Col)*(j-g.Col)
	return g.Amplitude*math.Exp(-d2/(2*g.Sigma*g.Sigma)) + g.Background
}

// FitOptions controls FitGaussian. Window is the half-size in pixels of the
// box around the peak that is fitted; zero uses 5.
type FitOptions struct {
	Method Method
	Window int
}

type fitData struct {
	rows, cols, values []float64
	scale              float64
}

func (d *fitData) residuals(dst, x []float64) {
	g := Gaussian{Amplitude: x[0], Row: x[1], Col: x[2], Sigma: x[3], Background: x[4]}
	for k := range d.values {
		dst[k] = (g.at(d.rows[k], d.cols[k]) - d.values[k]) / d.scale
	}
}

func (d *fitData) chiSq(x []float64) float64 {
	res := make([]float64, len(d.values))
	d.residuals(res, x)
	var s float64
	for _, v := range res {
		s += v * v
	}
	return s
}

// FitGaussian fits a circular Gaussian to the core of img. The
// Levenberg-Marquardt fit falls back to Nelder-Mead when it fails.
func FitGaussian(img mat.Matrix, opts FitOptions) (Gaussian, error) {
	peak, pr, pc := Peak(img)
	if !(peak > 0) {
		return Gaussian{}, ErrEmptyImage
	}
	w := opts.Window
	if w <= 0 {
		w = 5
	}
	r, c := img.Dims()
	d := &fitData{scale: peak}
	for i := max(0, pr-w); i <= min(r-1, pr+w); i++ {
		for j := max(0, pc-w); j <= min(c-1, pc+w); j++ {
			d.rows = append(d.rows, float64(i))
			d.cols = append(d.cols, float64(j))
			d.values = append(d.values, img.At(i, j))
		}
	}
	if len(d.values) < 5 {
		return Gaussian{}, fmt.Errorf("fit window holds %d pixels, need at least 5", len(d.values))
	}

	// sigma guess from the half-maximum area
	var above int
	for _, v := range d.values {
		if v >= peak/2 {
			above++
		}
	}
	sigma := math.Sqrt(float64(above)/math.Pi) / (fwhmPerSigma / 2)
	init := []float64{peak, float64(pr), float64(pc), math.Max(sigma, 0.5), 0}

	var (
		x   []float64
		err error
	)
	method := opts.Method
	switch method {
	case "", LevenbergMarquardt:
		method = LevenbergMarquardt
		x, err = fitLM(d, init)
		if err != nil {
			method = NelderMead
			x, err = fitNM(d, init)
		}
	case NelderMead:
		x, err = fitNM(d, init)
	case LBFGS:
		x, err = fitLBFGS(d, init)
	default:
		return Gaussian{}, fmt.Errorf("unknown fit method %q", opts.Method)
	}
	if err != nil {
		return Gaussian{}, err
	}
	g := Gaussian{Amplitude: x[0], Row: x[1], Col: x[2], Sigma: math.Abs(x[3]), Background: x[4], Method: method}
	if math.IsNaN(g.Sigma) || g.Sigma == 0 {
		return Gaussian{}, fmt.Errorf("%s fit did not converge", method)
	}
	return g, nil
}

func fitLM(d *fitData, init []float64) (x []float64, err error) {
	jac := lm.NumJac{Func: d.residuals}
	problem := lm.LMProblem{
		Dim:        len(init),
		Size:       len(d.values),
		Func:       d.residuals,
		Jac:        jac.Jac,
		InitParams: append([]float64(nil), init...),
		Tau:        1e-3,
		Eps1:       1e-10,
		Eps2:       1e-10,
	}
	// singular normal equations panic inside lm
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("levenberg-marquardt: %v", r)
		}
	}()
	res, err := lm.LM(problem, &lm.Settings{Iterations: 1000, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, err
	}
	return res.X, nil
}

func fitNM(d *fitData, init []float64) ([]float64, error) {
	res, err := optimize.Minimize(optimize.Problem{Func: d.chiSq}, init, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("nelder-mead: %w", err)
	}
	return res.X, nil
}

func fitLBFGS(d *fitData, init []float64) ([]float64, error) {
	grad := func(grad, x []float64) {
		fd.Gradient(grad, d.chiSq, x, &fd.Settings{Formula: fd.Central})
	}
	res, err := optimize.Minimize(optimize.Problem{Func: d.chiSq, Grad: grad}, init, nil, &optimize.LBFGS{})
	if err != nil {
		return nil, fmt.Errorf("lbfgs: %w", err)
	}
	return res.X, nil
}

// Summary collects the figures reported for a PSF. Angular quantities are in
// arcsec.
type Summary struct {
	Peak         float64
	Total        float64
	CentroidRow  float64
	CentroidCol  float64
	FWHM         float64
	EE50         float64
	EE80         float64
	FitMethod    Method
	FitSucceeded bool
}

// Measure computes a Summary for img sampled at pixelScale arcsec/pixel.
// A failed Gaussian fit leaves FWHM zero rather than failing the summary.
func Measure(img mat.Matrix, pixelScale float64, opts FitOptions) (Summary, error) {
	cy, cx, err := Centroid(img)
	if err != nil {
		return Summary{}, err
	}
	peak, _, _ := Peak(img)
	s := Summary{Peak: peak, Total: mat.Sum(img), CentroidRow: cy, CentroidCol: cx}
	if s.EE50, err = EncircledEnergyRadius(img, cy, cx, 0.5); err != nil {
		return Summary{}, err
	}
	if s.EE80, err = EncircledEnergyRadius(img, cy, cx, 0.8); err != nil {
		return Summary{}, err
	}
	s.EE50 *= pixelScale
	s.EE80 *= pixelScale
	if g, err := FitGaussian(img, opts); err == nil {
		s.FWHM = g.FWHM() * pixelScale
		s.FitMethod = g.Method
		s.FitSucceeded = true
	}
	return s, nil
}
