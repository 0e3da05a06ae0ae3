package gopsf

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ArcsecPerRadian converts angles in radians to arcseconds.
const ArcsecPerRadian = 180 * 3600 / math.Pi

type PlaneType int

const (
	PupilPlane PlaneType = iota
	ImagePlane
	DetectorPlane
)

func (p PlaneType) String() string {
	switch p {
	case PupilPlane:
		return "pupil"
	case ImagePlane:
		return "image"
	case DetectorPlane:
		return "detector"
	}
	return "unknown"
}

// isImage reports whether p is a focal plane (intermediate or detector).
func (p PlaneType) isImage() bool { return p == ImagePlane || p == DetectorPlane }

// Centering selects where the coordinate origin of a sampled plane sits.
type Centering int

const (
	// CenterFFT puts the origin on pixel n/2, matching a shifted FFT.
	CenterFFT Centering = iota
	// CenterSymmetric puts the origin at the array centre, between pixels for even n.
	CenterSymmetric
)

func (c Centering) origin(n int) float64 {
	if c == CenterSymmetric {
		return float64(n-1) / 2
	}
	return float64(n / 2)
}

// lattice records how an intermediate image plane was produced so that the
// return transform lands back on the same pupil grid.
type lattice struct {
	kind      StrategyKind
	pupilRows int
	pupilCols int
	nlamD     float64
	padded    int
}

// Wavefront is a complex field sampled on a regular grid. PixelScale is in
// metres per pixel on pupil planes and arcseconds per pixel on image planes.
type Wavefront struct {
	Wavelength   float64
	Field        *mat.CDense
	Plane        PlaneType
	PixelScale   float64
	Oversample   int
	GridDiameter float64
	Location     string

	lattice lattice
}

// NewWavefront returns a uniform unit-amplitude pupil-plane wavefront of
// npix×npix samples spanning diameter metres.
func NewWavefront(wavelength float64, npix int, diameter float64, oversample int) *Wavefront {
	data := make([]complex128, npix*npix)
	for i := range data {
		data[i] = 1
	}
	if oversample < 1 {
		oversample = 1
	}
	return &Wavefront{
		Wavelength:   wavelength,
		Field:        mat.NewCDense(npix, npix, data),
		Plane:        PupilPlane,
		PixelScale:   diameter / float64(npix),
		Oversample:   oversample,
		GridDiameter: diameter,
		Location:     "entrance",
	}
}

func (w *Wavefront) Dims() (r, c int) { return w.Field.Dims() }

// LambdaOverD returns λ/D of the pupil array in arcseconds.
func (w *Wavefront) LambdaOverD() float64 {
	return w.Wavelength / w.GridDiameter * ArcsecPerRadian
}

// data returns the row-major backing slice of the field.
func (w *Wavefront) data() []complex128 {
	raw := w.Field.RawCMatrix()
	if raw.Stride != raw.Cols {
		w.Field = compact(w.Field)
		raw = w.Field.RawCMatrix()
	}
	return raw.Data
}

func compact(m *mat.CDense) *mat.CDense {
	r, c := m.Dims()
	out := mat.NewCDense(r, c, nil)
	out.Copy(m)
	return out
}

// Intensity returns |E|² as a real matrix.
func (w *Wavefront) Intensity() *mat.Dense {
	r, c := w.Dims()
	field := w.data()
	out := make([]float64, r*c)
	for i, v := range field {
		re, im := real(v), imag(v)
		out[i] = re*re + im*im
	}
	return mat.NewDense(r, c, out)
}

// TotalIntensity returns Σ|E|².
func (w *Wavefront) TotalIntensity() float64 {
	var sum float64
	for _, v := range w.data() {
		re, im := real(v), imag(v)
		sum += re*re + im*im
	}
	return sum
}

// Normalize scales the field to unit total intensity. A dark field is left alone.
func (w *Wavefront) Normalize() {
	total := w.TotalIntensity()
	if total <= 0 {
		return
	}
	s := complex(1/math.Sqrt(total), 0)
	field := w.data()
	for i := range field {
		field[i] *= s
	}
}

// Copy returns a deep copy.
func (w *Wavefront) Copy() *Wavefront {
	out := *w
	out.Field = compact(w.Field)
	return &out
}

// coords returns pixel-centre coordinates along an axis of n samples in units
// of PixelScale.
func coords(n int, c Centering) []float64 {
	o := c.origin(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) - o
	}
	return out
}

// multiply applies an element-wise transmission t(y, x) in physical units.
func (w *Wavefront) multiply(c Centering, t func(y, x float64) complex128) {
	r, cols := w.Dims()
	ys, xs := coords(r, c), coords(cols, c)
	field := w.data()
	for i, y := range ys {
		row := field[i*cols : (i+1)*cols]
		for j, x := range xs {
			row[j] *= t(y*w.PixelScale, x*w.PixelScale)
		}
	}
}

// phasor returns exp(i·2π·opd/λ).
func phasor(opd, wavelength float64) complex128 {
	return cmplx.Exp(complex(0, 2*math.Pi*opd/wavelength))
}
