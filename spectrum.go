package gopsf

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// Spectrum is an ordered list of (wavelength, weight) pairs. Wavelengths are
// in metres.
type Spectrum struct {
	Name        string
	Wavelengths []float64
	Weights     []float64
}

func (s Spectrum) Len() int { return len(s.Wavelengths) }

// Validate checks that the spectrum can be integrated.
func (s Spectrum) Validate() error {
	if len(s.Wavelengths) == 0 {
		return configErr(s.Name, 0, ErrInvalidSpectrum, "no wavelengths")
	}
	if len(s.Weights) != len(s.Wavelengths) {
		return configErr(s.Name, 0, ErrInvalidSpectrum, "%d wavelengths but %d weights", len(s.Wavelengths), len(s.Weights))
	}
	for i, l := range s.Wavelengths {
		if !(l > 0) || math.IsInf(l, 0) {
			return configErr(s.Name, l, ErrInvalidSpectrum, "wavelength #%d is not positive", i)
		}
		if s.Weights[i] < 0 || math.IsNaN(s.Weights[i]) {
			return configErr(s.Name, l, ErrInvalidSpectrum, "weight #%d is negative", i)
		}
	}
	if floats.Sum(s.Weights) <= 0 {
		return configErr(s.Name, 0, ErrInvalidSpectrum, "weights sum to zero")
	}
	return nil
}

// Normalized returns a copy whose weights sum to one.
func (s Spectrum) Normalized() Spectrum {
	out := Spectrum{Name: s.Name, Wavelengths: append([]float64(nil), s.Wavelengths...), Weights: append([]float64(nil), s.Weights...)}
	if sum := floats.Sum(out.Weights); sum > 0 {
		floats.Scale(1/sum, out.Weights)
	}
	return out
}

// Monochromatic returns a single-wavelength spectrum of unit weight.
func Monochromatic(wavelength float64) Spectrum {
	return Spectrum{Name: "monochromatic", Wavelengths: []float64{wavelength}, Weights: []float64{1}}
}

// Source is a spectral energy distribution, in arbitrary flux-density units.
type Source interface {
	Flux(wavelength float64) float64
}

// Blackbody is a Planck spectrum at Temperature kelvin.
type Blackbody struct {
	Temperature float64
}

const (
	planckH = 6.62607015e-34
	lightC  = 2.99792458e8
	boltzK  = 1.380649e-23
)

// Flux returns B_λ(T) in W·m⁻³·sr⁻¹.
func (b Blackbody) Flux(wavelength float64) float64 {
	if b.Temperature <= 0 || wavelength <= 0 {
		return 0
	}
	x := planckH * lightC / (wavelength * boltzK * b.Temperature)
	return 2 * planckH * lightC * lightC / math.Pow(wavelength, 5) / math.Expm1(x)
}

// Tabulated is a source or throughput curve sampled at increasing wavelengths
// and linearly interpolated. Outside the table it is zero.
type Tabulated struct {
	Name        string
	Wavelengths []float64
	Values      []float64
}

func (t Tabulated) Flux(wavelength float64) float64 { return t.At(wavelength) }

// At interpolates the table at wavelength.
func (t Tabulated) At(wavelength float64) float64 {
	n := len(t.Wavelengths)
	if n == 0 || wavelength < t.Wavelengths[0] || wavelength > t.Wavelengths[n-1] {
		return 0
	}
	i := sort.SearchFloat64s(t.Wavelengths, wavelength)
	if i == 0 {
		return t.Values[0]
	}
	if i >= n {
		return t.Values[n-1]
	}
	l0, l1 := t.Wavelengths[i-1], t.Wavelengths[i]
	f := (wavelength - l0) / (l1 - l0)
	return t.Values[i-1] + f*(t.Values[i]-t.Values[i-1])
}

func (t Tabulated) validate() error {
	if len(t.Wavelengths) < 2 || len(t.Values) != len(t.Wavelengths) {
		return configErr(t.Name, 0, ErrInvalidSpectrum, "table needs at least two matching wavelength/value rows")
	}
	if !sort.Float64sAreSorted(t.Wavelengths) {
		return configErr(t.Name, 0, ErrInvalidSpectrum, "table wavelengths are not increasing")
	}
	return nil
}

// Bandpass is a filter throughput curve.
type Bandpass struct {
	Tabulated
}

// TopHat returns a unit-throughput bandpass between lo and hi metres.
func TopHat(name string, lo, hi float64) Bandpass {
	return Bandpass{Tabulated{Name: name, Wavelengths: []float64{lo, hi}, Values: []float64{1, 1}}}
}

// Range returns the span where the throughput is non-zero.
func (b Bandpass) Range() (lo, hi float64) {
	first, last := -1, -1
	for i, v := range b.Values {
		if v > 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0
	}
	// the ramp starts at the neighbouring zero rows
	if first > 0 {
		first--
	}
	if last < len(b.Values)-1 {
		last++
	}
	return b.Wavelengths[first], b.Wavelengths[last]
}

// binSamples is the number of quadrature points per wavelength bin.
const binSamples = 64

// WavelengthGrid splits the bandpass into n equal-width bins. Each bin's weight
// is the photon-counting integral ∫T·S·λ dλ and its wavelength is the
// throughput-weighted mean. Weights are normalised to sum to one; empty bins
// are dropped.
func WavelengthGrid(source Source, bp Bandpass, n int) (Spectrum, error) {
	if n < 1 {
		return Spectrum{}, configErr(bp.Name, 0, ErrInvalidSpectrum, "need at least one wavelength, got %d", n)
	}
	if err := bp.validate(); err != nil {
		return Spectrum{}, err
	}
	lo, hi := bp.Range()
	if !(hi > lo) {
		return Spectrum{}, configErr(bp.Name, 0, ErrInvalidSpectrum, "bandpass has no throughput")
	}

	out := Spectrum{Name: bp.Name}
	edges := floats.Span(make([]float64, n+1), lo, hi)
	ls := make([]float64, binSamples)
	ws := make([]float64, binSamples)
	lws := make([]float64, binSamples)
	for b := 0; b < n; b++ {
		floats.Span(ls, edges[b], edges[b+1])
		for i, l := range ls {
			ws[i] = bp.At(l) * source.Flux(l) * l
		}
		weight := integrate.Trapezoidal(ls, ws)
		if weight <= 0 {
			continue
		}
		floats.MulTo(lws, ls, ws)
		out.Wavelengths = append(out.Wavelengths, integrate.Trapezoidal(ls, lws)/weight)
		out.Weights = append(out.Weights, weight)
	}
	if len(out.Weights) == 0 {
		return Spectrum{}, configErr(bp.Name, 0, ErrInvalidSpectrum, "source has no flux in the bandpass")
	}
	return out.Normalized(), nil
}

// spectralTemperatures maps a spectral class and subclass zero to an effective
// temperature in kelvin; subclasses interpolate towards the next class.
var spectralTemperatures = []struct {
	class string
	teff  float64
}{
	{"O", 41000},
	{"B", 31000},
	{"A", 9700},
	{"F", 7200},
	{"G", 5900},
	{"K", 5250},
	{"M", 3850},
	{"L", 2200},
}

// SpectralTypeTemperature returns the effective temperature for a stellar type
// such as "G2V" or "M0". The luminosity class is ignored.
func SpectralTypeTemperature(spType string) (float64, error) {
	s := strings.ToUpper(strings.TrimSpace(spType))
	if s == "" {
		return 0, fmt.Errorf("%w: empty spectral type", ErrInvalidSpectrum)
	}
	idx := -1
	for i, e := range spectralTemperatures {
		if strings.HasPrefix(s, e.class) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: unknown spectral type %q", ErrInvalidSpectrum, spType)
	}
	sub := 0.0
	if len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
		sub = float64(s[1] - '0')
		if len(s) > 3 && s[2] == '.' && s[3] >= '0' && s[3] <= '9' {
			sub += float64(s[3]-'0') / 10
		}
	}
	t0 := spectralTemperatures[idx].teff
	if idx == len(spectralTemperatures)-1 {
		return t0, nil
	}
	t1 := spectralTemperatures[idx+1].teff
	return t0 + (t1-t0)*sub/10, nil
}

// SpectralTypeSource returns a blackbody at the temperature of spType.
func SpectralTypeSource(spType string) (Blackbody, error) {
	t, err := SpectralTypeTemperature(spType)
	if err != nil {
		return Blackbody{}, err
	}
	return Blackbody{Temperature: t}, nil
}
