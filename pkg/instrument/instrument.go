// Package instrument describes the JWST science instruments and builds
// optical systems and source spectra for them from a configuration.
package instrument

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kacperjurak/gopsf"
)

// Telescope pupil geometry in metres.
const (
	PupilDiameter = 6.5
	Obscuration   = 0.74
	Spiders       = 3
	SpiderWidth   = 0.1
	// Lyot stops undersize the outer edge and oversize the obscuration.
	lyotOuter = 0.9
	lyotInner = 1.2
)

// Filter is a top-hat approximation of a bandpass. Wavelengths are in metres.
type Filter struct {
	Name    string
	Lo, Hi  float64
	Channel string
}

// Bandpass returns the filter throughput curve.
func (f Filter) Bandpass() gopsf.Bandpass { return gopsf.TopHat(f.Name, f.Lo, f.Hi) }

// DefaultWavelengths picks the number of wavelengths sampled for the filter
// from its width class.
func (f Filter) DefaultWavelengths() int {
	switch {
	case strings.HasSuffix(f.Name, "W"), strings.HasSuffix(f.Name, "W2"), strings.HasSuffix(f.Name, "X"):
		return 9
	case strings.HasSuffix(f.Name, "M"):
		return 3
	case strings.HasSuffix(f.Name, "N"):
		return 1
	}
	return 5
}

// Mask is a coronagraphic focal-plane mask and its Lyot stop.
type Mask struct {
	Name     string
	Occulter gopsf.Occulter
	Channel  string
	// Phase masks are listed for completeness; they cannot be modelled as an
	// opaque occulter.
	Phase bool
}

// Instrument is one entry of the instrument table.
type Instrument struct {
	Name string
	// PixelScale in arcsec per detector pixel; ChannelScales overrides it per
	// filter channel.
	PixelScale      float64
	ChannelScales   map[string]float64
	Filters         map[string]Filter
	Masks           map[string]Mask
	DefaultFilter   string
	DefaultAperture string
}

// FilterNames returns the known filters in sorted order.
func (in *Instrument) FilterNames() []string {
	out := make([]string, 0, len(in.Filters))
	for n := range in.Filters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (in *Instrument) MaskNames() []string {
	out := make([]string, 0, len(in.Masks))
	for n := range in.Masks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Filter looks up a filter; an empty name selects the default.
func (in *Instrument) Filter(name string) (Filter, error) {
	if name == "" {
		name = in.DefaultFilter
	}
	f, ok := in.Filters[strings.ToUpper(name)]
	if !ok {
		return Filter{}, &gopsf.ConfigurationError{
			Element: in.Name,
			Err:     fmt.Errorf("%w: unknown filter %q (have %s)", gopsf.ErrInvalidSystem, name, strings.Join(in.FilterNames(), ", ")),
		}
	}
	return f, nil
}

// Mask looks up a coronagraph mask.
func (in *Instrument) Mask(name string) (Mask, error) {
	m, ok := in.Masks[strings.ToUpper(name)]
	if !ok {
		return Mask{}, &gopsf.ConfigurationError{
			Element: in.Name,
			Err:     fmt.Errorf("%w: unknown coronagraph mask %q", gopsf.ErrUnsupportedOcculter, name),
		}
	}
	return m, nil
}

// Scale returns the detector pixel scale for a filter.
func (in *Instrument) Scale(f Filter) float64 {
	if s, ok := in.ChannelScales[f.Channel]; ok {
		return s
	}
	return in.PixelScale
}

func filters(list ...Filter) map[string]Filter {
	out := make(map[string]Filter, len(list))
	for _, f := range list {
		out[f.Name] = f
	}
	return out
}

func masks(list ...Mask) map[string]Mask {
	out := make(map[string]Mask, len(list))
	for _, m := range list {
		m.Occulter.Label = m.Name
		out[m.Name] = m
	}
	return out
}

const um = 1e-6

var table = map[string]*Instrument{
	"NIRCam": {
		Name:          "NIRCam",
		PixelScale:    0.0311,
		ChannelScales: map[string]float64{"SW": 0.0311, "LW": 0.063},
		Filters: filters(
			Filter{"F070W", 0.624 * um, 0.781 * um, "SW"},
			Filter{"F090W", 0.795 * um, 1.005 * um, "SW"},
			Filter{"F115W", 1.013 * um, 1.282 * um, "SW"},
			Filter{"F150W", 1.331 * um, 1.668 * um, "SW"},
			Filter{"F182M", 1.722 * um, 1.968 * um, "SW"},
			Filter{"F200W", 1.755 * um, 2.227 * um, "SW"},
			Filter{"F212N", 2.109 * um, 2.134 * um, "SW"},
			Filter{"F277W", 2.423 * um, 3.132 * um, "LW"},
			Filter{"F335M", 3.177 * um, 3.537 * um, "LW"},
			Filter{"F356W", 3.135 * um, 3.981 * um, "LW"},
			Filter{"F410M", 3.866 * um, 4.302 * um, "LW"},
			Filter{"F444W", 3.881 * um, 4.982 * um, "LW"},
		),
		Masks: masks(
			Mask{Name: "MASK210R", Channel: "SW", Occulter: gopsf.Occulter{Shape: gopsf.CircularOcculter, Radius: 0.40}},
			Mask{Name: "MASK335R", Channel: "LW", Occulter: gopsf.Occulter{Shape: gopsf.CircularOcculter, Radius: 0.64}},
			Mask{Name: "MASK430R", Channel: "LW", Occulter: gopsf.Occulter{Shape: gopsf.CircularOcculter, Radius: 0.82}},
			Mask{Name: "MASKSWB", Channel: "SW", Occulter: gopsf.Occulter{Shape: gopsf.WedgeOcculter, Width: 0.40, Slope: 0.04}},
			Mask{Name: "MASKLWB", Channel: "LW", Occulter: gopsf.Occulter{Shape: gopsf.WedgeOcculter, Width: 0.84, Slope: 0.08}},
		),
		DefaultFilter:   "F200W",
		DefaultAperture: "NRCA1_FULL",
	},
	"NIRSpec": {
		Name:       "NIRSpec",
		PixelScale: 0.1,
		Filters: filters(
			Filter{Name: "F110W", Lo: 0.97 * um, Hi: 1.31 * um},
			Filter{Name: "F140X", Lo: 0.81 * um, Hi: 2.0 * um},
			Filter{Name: "CLEAR", Lo: 0.6 * um, Hi: 5.3 * um},
		),
		DefaultFilter:   "F110W",
		DefaultAperture: "NRS_FULL_MSA",
	},
	"NIRISS": {
		Name:       "NIRISS",
		PixelScale: 0.0656,
		Filters: filters(
			Filter{Name: "F090W", Lo: 0.796 * um, Hi: 1.005 * um},
			Filter{Name: "F115W", Lo: 1.013 * um, Hi: 1.283 * um},
			Filter{Name: "F150W", Lo: 1.330 * um, Hi: 1.671 * um},
			Filter{Name: "F200W", Lo: 1.751 * um, Hi: 2.226 * um},
			Filter{Name: "F277W", Lo: 2.413 * um, Hi: 3.143 * um},
			Filter{Name: "F380M", Lo: 3.726 * um, Hi: 3.931 * um},
			Filter{Name: "F430M", Lo: 4.182 * um, Hi: 4.395 * um},
			Filter{Name: "F480M", Lo: 4.668 * um, Hi: 4.971 * um},
		),
		DefaultFilter:   "F380M",
		DefaultAperture: "NIS_CEN",
	},
	"MIRI": {
		Name:       "MIRI",
		PixelScale: 0.11,
		Filters: filters(
			Filter{Name: "F560W", Lo: 5.05 * um, Hi: 6.17 * um},
			Filter{Name: "F770W", Lo: 6.58 * um, Hi: 8.69 * um},
			Filter{Name: "F1000W", Lo: 9.02 * um, Hi: 10.91 * um},
			Filter{Name: "F1130W", Lo: 10.95 * um, Hi: 11.65 * um},
			Filter{Name: "F1500W", Lo: 13.53 * um, Hi: 16.64 * um},
			Filter{Name: "F2100W", Lo: 18.48 * um, Hi: 23.16 * um},
			Filter{Name: "F2300C", Lo: 20.28 * um, Hi: 25.60 * um},
		),
		Masks: masks(
			Mask{Name: "LYOT2300", Occulter: gopsf.Occulter{Shape: gopsf.CircularOcculter, Radius: 0.72}},
			Mask{Name: "FQPM1065", Phase: true},
			Mask{Name: "FQPM1140", Phase: true},
			Mask{Name: "FQPM1550", Phase: true},
		),
		DefaultFilter:   "F770W",
		DefaultAperture: "MIRIM_FULL",
	},
	"FGS": {
		Name:       "FGS",
		PixelScale: 0.069,
		Filters: filters(
			Filter{Name: "FGS", Lo: 0.6 * um, Hi: 5.0 * um},
		),
		DefaultFilter:   "FGS",
		DefaultAperture: "FGS1_FULL",
	},
}

// Names returns the supported instruments in sorted order.
func Names() []string {
	out := make([]string, 0, len(table))
	for n := range table {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup finds an instrument by name, ignoring case.
func Lookup(name string) (*Instrument, error) {
	for n, in := range table {
		if strings.EqualFold(n, name) {
			return in, nil
		}
	}
	return nil, &gopsf.ConfigurationError{
		Element: "instrument",
		Err:     fmt.Errorf("%w: unknown instrument %q (have %s)", gopsf.ErrInvalidSystem, name, strings.Join(Names(), ", ")),
	}
}
