package instrument

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/siaf"
)

// OPD is a wavefront error map in metres on the pupil grid.
type OPD struct {
	Data       *mat.Dense
	PixelScale float64
}

// System is an instrument configuration resolved into an optical train.
type System struct {
	Instrument *Instrument
	Filter     Filter
	Mask       *Mask
	Optical    *gopsf.OpticalSystem
	Detector   *gopsf.Detector
	// Aperture is set when a SIAF file was configured.
	Aperture *siaf.Aperture
}

// Build resolves cfg into an optical system. opd may be nil.
func Build(cfg *config.Config, opd *OPD) (*System, error) {
	in, err := Lookup(cfg.Instrument)
	if err != nil {
		return nil, err
	}
	filter, err := in.Filter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	sys := &System{Instrument: in, Filter: filter}

	scale := in.Scale(filter)
	if cfg.SIAFFile != "" {
		ap, err := loadAperture(in, cfg)
		if err != nil {
			return nil, err
		}
		sys.Aperture = ap
		if s := ap.PixelScale(); s > 0 {
			scale = s
		}
	}

	elements := []gopsf.OpticalElement{&gopsf.Pupil{
		Label:       "JWST pupil",
		Diameter:    PupilDiameter,
		Obscuration: Obscuration,
		Spiders:     Spiders,
		SpiderWidth: SpiderWidth,
	}}
	if opd != nil && opd.Data != nil {
		r, c := opd.Data.Dims()
		if r != cfg.NPix || c != cfg.NPix {
			return nil, &gopsf.ConfigurationError{
				Element: "OPD",
				Err:     fmt.Errorf("%w: OPD map is %dx%d, npix is %d", gopsf.ErrInvalidSampling, r, c, cfg.NPix),
			}
		}
		elements = append(elements, gopsf.NewOPDMap("OPD", opd.Data, opd.PixelScale))
	}

	if cfg.Mask != "" {
		m, err := in.Mask(cfg.Mask)
		if err != nil {
			return nil, err
		}
		if m.Phase {
			return nil, &gopsf.ConfigurationError{
				Element: m.Name,
				Err:     fmt.Errorf("%w: %s is a phase mask", gopsf.ErrUnsupportedOcculter, m.Name),
			}
		}
		if m.Channel != "" && m.Channel != filter.Channel {
			return nil, &gopsf.ConfigurationError{
				Element: m.Name,
				Err: fmt.Errorf("%w: %s is a %s mask, filter %s is %s", gopsf.ErrInvalidSystem,
					m.Name, m.Channel, filter.Name, filter.Channel),
			}
		}
		sys.Mask = &m
		occ := m.Occulter
		elements = append(elements, &occ, &gopsf.Pupil{
			Label:       "Lyot stop",
			Diameter:    PupilDiameter * lyotOuter,
			Obscuration: Obscuration * lyotInner,
			Spiders:     Spiders,
			SpiderWidth: SpiderWidth * lyotInner,
		})
	}

	sys.Detector = &gopsf.Detector{
		Label:      fmt.Sprintf("%s detector", in.Name),
		PixelScale: scale,
		FOVPixels:  cfg.FOVPixels,
		Oversample: cfg.Oversample,
	}
	elements = append(elements, sys.Detector)

	sys.Optical = &gopsf.OpticalSystem{
		Name:          fmt.Sprintf("%s %s", in.Name, filter.Name),
		Elements:      elements,
		NPix:          cfg.NPix,
		PupilDiameter: PupilDiameter,
		Oversample:    cfg.CoronOversample,
	}
	if sys.Mask != nil {
		sys.Optical.Name += " " + sys.Mask.Name
	}
	return sys, nil
}

func loadAperture(in *Instrument, cfg *config.Config) (*siaf.Aperture, error) {
	s, err := siaf.LoadFile(in.Name, cfg.SIAFFile)
	if err != nil {
		return nil, &gopsf.ConfigurationError{Element: "siaf", Err: fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, err)}
	}
	name := cfg.Aperture
	if name == "" {
		name = in.DefaultAperture
	}
	ap, err := s.Aperture(name)
	if err != nil {
		return nil, &gopsf.ConfigurationError{Element: "siaf", Err: fmt.Errorf("%w: %v", gopsf.ErrInvalidSystem, err)}
	}
	return ap, nil
}

// Spectrum returns the wavelengths and weights to integrate over. Explicit
// wavelengths use the configured weights, or equal weights without them; otherwise the source (temperature, then
// spectral type) is binned over the filter bandpass.
func (s *System) Spectrum(cfg *config.Config) (gopsf.Spectrum, error) {
	if len(cfg.Wavelengths) > 0 {
		sp := gopsf.Spectrum{
			Name:        "explicit",
			Wavelengths: append([]float64(nil), cfg.Wavelengths...),
			Weights:     make([]float64, len(cfg.Wavelengths)),
		}
		for i := range sp.Weights {
			sp.Weights[i] = 1
			if len(cfg.Weights) == len(cfg.Wavelengths) {
				sp.Weights[i] = cfg.Weights[i]
			}
		}
		if err := sp.Validate(); err != nil {
			return gopsf.Spectrum{}, err
		}
		return sp.Normalized(), nil
	}

	var source gopsf.Source
	switch {
	case cfg.Temperature > 0:
		source = gopsf.Blackbody{Temperature: cfg.Temperature}
	case strings.TrimSpace(cfg.SpectralType) != "":
		bb, err := gopsf.SpectralTypeSource(cfg.SpectralType)
		if err != nil {
			return gopsf.Spectrum{}, &gopsf.ConfigurationError{Element: "source", Err: err}
		}
		source = bb
	default:
		source = gopsf.Blackbody{Temperature: 5770}
	}

	n := cfg.NLambda
	if n == 0 {
		n = s.Filter.DefaultWavelengths()
	}
	return gopsf.WavelengthGrid(source, s.Filter.Bandpass(), n)
}

// V2V3Ref returns the aperture reference point in arcsec, or zero without a
// SIAF aperture.
func (s *System) V2V3Ref() [2]float64 {
	if s.Aperture == nil {
		return [2]float64{}
	}
	return [2]float64{s.Aperture.V2Ref, s.Aperture.V3Ref}
}

// Describe is a one-line summary for logs.
func (s *System) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", s.Instrument.Name, s.Filter.Name)
	if s.Mask != nil {
		fmt.Fprintf(&b, "/%s", s.Mask.Name)
	}
	if s.Aperture != nil {
		fmt.Fprintf(&b, " @ %s", s.Aperture.Name)
	}
	fmt.Fprintf(&b, " %.4g\"/px x%d", s.Detector.PixelScale, s.Detector.Oversample)
	return b.String()
}
