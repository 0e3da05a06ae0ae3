package gopsf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// OpticalElement is one stage of an optical train. The set of implementations
// is closed: *Pupil, *OPDMap, *Occulter and *Detector.
type OpticalElement interface {
	Name() string
	Plane() PlaneType
	Apply(w *Wavefront) error
	element()
}

// Pupil is a pupil-plane aperture: a circular outer edge with an optional
// central obscuration and spider struts, or an explicit transmission map.
type Pupil struct {
	Label        string
	Diameter     float64
	Obscuration  float64
	Spiders      int
	SpiderWidth  float64
	Transmission *mat.Dense
}

func (p *Pupil) Name() string     { return p.Label }
func (p *Pupil) Plane() PlaneType { return PupilPlane }
func (p *Pupil) element()         {}

func (p *Pupil) Apply(w *Wavefront) error {
	if w.Plane != PupilPlane {
		return configErr(p.Label, w.Wavelength, ErrInvalidSystem, "pupil applied to %s plane", w.Plane)
	}
	if p.Transmission != nil {
		r, c := w.Dims()
		tr, tc := p.Transmission.Dims()
		if tr != r || tc != c {
			return configErr(p.Label, w.Wavelength, ErrInvalidSampling,
				"transmission map is %dx%d, wavefront is %dx%d", tr, tc, r, c)
		}
		field := w.data()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				field[i*c+j] *= complex(p.Transmission.At(i, j), 0)
			}
		}
		w.Location = p.Label
		return nil
	}
	w.multiply(CenterSymmetric, func(y, x float64) complex128 {
		return complex(p.transmission(y, x), 0)
	})
	w.Location = p.Label
	return nil
}

func (p *Pupil) transmission(y, x float64) float64 {
	r := math.Hypot(x, y)
	if p.Diameter > 0 && r > p.Diameter/2 {
		return 0
	}
	if r < p.Obscuration/2 {
		return 0
	}
	half := p.SpiderWidth / 2
	for k := 0; k < p.Spiders; k++ {
		theta := 2 * math.Pi * float64(k) / float64(p.Spiders)
		// strut runs from the centre along (sin θ, cos θ)
		along := x*math.Sin(theta) + y*math.Cos(theta)
		across := x*math.Cos(theta) - y*math.Sin(theta)
		if along >= 0 && math.Abs(across) < half {
			return 0
		}
	}
	return 1
}

// OPDMap applies a wavefront error map, in metres, sampled on the pupil grid.
type OPDMap struct {
	Label      string
	OPD        *mat.Dense
	PixelScale float64
	Amplitude  *mat.Dense
}

// NewOPDMap copies opd so that later changes by the caller are not seen.
func NewOPDMap(label string, opd mat.Matrix, pixelScale float64) *OPDMap {
	return &OPDMap{Label: label, OPD: mat.DenseCopyOf(opd), PixelScale: pixelScale}
}

func (o *OPDMap) Name() string     { return o.Label }
func (o *OPDMap) Plane() PlaneType { return PupilPlane }
func (o *OPDMap) element()         {}

func (o *OPDMap) Apply(w *Wavefront) error {
	if w.Plane != PupilPlane {
		return configErr(o.Label, w.Wavelength, ErrInvalidSystem, "OPD applied to %s plane", w.Plane)
	}
	r, c := w.Dims()
	or, oc := o.OPD.Dims()
	if or != r || oc != c {
		return configErr(o.Label, w.Wavelength, ErrInvalidSampling, "OPD is %dx%d, wavefront is %dx%d", or, oc, r, c)
	}
	if o.PixelScale > 0 && math.Abs(o.PixelScale-w.PixelScale) > 1e-6*w.PixelScale {
		return configErr(o.Label, w.Wavelength, ErrInvalidSampling,
			"OPD pixel scale %.6g m differs from wavefront %.6g m", o.PixelScale, w.PixelScale)
	}
	field := w.data()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := phasor(o.OPD.At(i, j), w.Wavelength)
			if o.Amplitude != nil {
				v *= complex(o.Amplitude.At(i, j), 0)
			}
			field[i*c+j] *= v
		}
	}
	w.Location = o.Label
	return nil
}

type OcculterShape int

const (
	CircularOcculter OcculterShape = iota
	WedgeOcculter
	BarOcculter
)

func (s OcculterShape) String() string {
	switch s {
	case CircularOcculter:
		return "circular"
	case WedgeOcculter:
		return "wedge"
	case BarOcculter:
		return "bar"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// Occulter is an opaque image-plane mask. Circular masks block r < Radius.
// Bars block |y| < Width/2; wedges block |y| < (Width + Slope·(x+Offset))/2.
// All dimensions are in arcseconds.
type Occulter struct {
	Label  string
	Shape  OcculterShape
	Radius float64
	Width  float64
	Slope  float64
	Offset float64
}

func (o *Occulter) Name() string     { return o.Label }
func (o *Occulter) Plane() PlaneType { return ImagePlane }
func (o *Occulter) element()         {}

// Blocked returns 1 where the mask is opaque and 0 where it transmits.
func (o *Occulter) Blocked(y, x float64) float64 {
	switch o.Shape {
	case CircularOcculter:
		if math.Hypot(x, y) < o.Radius {
			return 1
		}
	case BarOcculter:
		if math.Abs(y) < o.Width/2 {
			return 1
		}
	case WedgeOcculter:
		w := o.Width + o.Slope*(x+o.Offset)
		if w > 0 && math.Abs(y) < w/2 {
			return 1
		}
	}
	return 0
}

func (o *Occulter) Apply(w *Wavefront) error {
	if w.Plane != ImagePlane {
		return configErr(o.Label, w.Wavelength, ErrInvalidSystem, "occulter applied to %s plane", w.Plane)
	}
	if o.Shape > BarOcculter || o.Shape < CircularOcculter {
		return configErr(o.Label, w.Wavelength, ErrUnsupportedOcculter, "shape %s", o.Shape)
	}
	w.multiply(CenterFFT, func(y, x float64) complex128 {
		return complex(1-o.Blocked(y, x), 0)
	})
	w.Location = o.Label
	return nil
}

// Detector is the final focal plane: FOVPixels detector pixels of PixelScale
// arcsec, computed Oversample times finer.
type Detector struct {
	Label      string
	PixelScale float64
	FOVPixels  int
	Oversample int
}

func (d *Detector) Name() string     { return d.Label }
func (d *Detector) Plane() PlaneType { return DetectorPlane }
func (d *Detector) element()         {}

func (d *Detector) oversample() int {
	if d.Oversample < 1 {
		return 1
	}
	return d.Oversample
}

// samples returns the size of the oversampled detector grid.
func (d *Detector) samples() int { return d.FOVPixels * d.oversample() }

func (d *Detector) Apply(w *Wavefront) error {
	if w.Plane != DetectorPlane {
		return configErr(d.Label, w.Wavelength, ErrInvalidSystem, "detector applied to %s plane", w.Plane)
	}
	r, c := w.Dims()
	if r != d.samples() || c != d.samples() {
		return configErr(d.Label, w.Wavelength, ErrInvalidSampling,
			"detector grid is %dx%d, want %d", r, c, d.samples())
	}
	w.Location = d.Label
	return nil
}
