// Package siaf reads Science Instrument Aperture Files and converts positions
// between the detector, science, ideal and telescope (V2/V3) frames of an
// aperture.
package siaf

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Instruments lists the instrument names a SIAF can be loaded for.
var Instruments = []string{"NIRCam", "NIRSpec", "NIRISS", "MIRI", "FGS"}

// ValidInstrument reports whether name is one of Instruments. The match is
// case sensitive.
func ValidInstrument(name string) bool {
	for _, i := range Instruments {
		if i == name {
			return true
		}
	}
	return false
}

// Frame is a coordinate system of an aperture.
type Frame string

const (
	// Det is raw detector pixels.
	Det Frame = "Det"
	// Sci is pixels in science orientation.
	Sci Frame = "Sci"
	// Idl is arcsec relative to the aperture reference point.
	Idl Frame = "Idl"
	// Tel is V2/V3 in arcsec.
	Tel Frame = "Tel"
)

// Aperture is one SiafEntry. Angles are in degrees.
type Aperture struct {
	Name       string
	Instrument string
	Type       string

	XDetRef, YDetRef     float64
	XSciRef, YSciRef     float64
	XSciSize, YSciSize   float64
	XSciScale, YSciScale float64
	V2Ref, V3Ref         float64
	V3IdlYAngle          float64
	VIdlParity           float64
	DetSciYAngle         float64
	DetSciParity         float64

	// Polynomial coefficients indexed [i][j] for the term dx^(i-j)·dy^j.
	Degree    int
	Sci2IdlX  *mat.Dense
	Sci2IdlY  *mat.Dense
	Idl2SciX  *mat.Dense
	Idl2SciY  *mat.Dense
	XIdlVerts [4]float64
	YIdlVerts [4]float64

	// Fields holds every scalar element of the entry as read.
	Fields map[string]string
}

// SIAF is the set of apertures of one instrument.
type SIAF struct {
	Instrument string
	Apertures  map[string]*Aperture
}

// Names returns the aperture names in sorted order.
func (s *SIAF) Names() []string {
	out := make([]string, 0, len(s.Apertures))
	for n := range s.Apertures {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Aperture looks up an aperture by name.
func (s *SIAF) Aperture(name string) (*Aperture, error) {
	a, ok := s.Apertures[name]
	if !ok {
		return nil, fmt.Errorf("aperture %q not found in %s SIAF", name, s.Instrument)
	}
	return a, nil
}

// LoadFile reads the SIAF XML for instrument from path.
func LoadFile(instrument, path string) (*SIAF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening SIAF: %w", err)
	}
	defer f.Close()
	return Load(instrument, f)
}

// node is a generic XML element.
type node struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
	Nodes   []node `xml:",any"`
}

// Load parses SIAF XML. Entries whose InstrName is set and does not match
// instrument are skipped.
func Load(instrument string, r io.Reader) (*SIAF, error) {
	if !ValidInstrument(instrument) {
		return nil, fmt.Errorf("invalid instrument name %q (case sensitive; one of %s)",
			instrument, strings.Join(Instruments, ", "))
	}
	var root node
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing SIAF XML: %w", err)
	}

	s := &SIAF{Instrument: instrument, Apertures: map[string]*Aperture{}}
	var walk func(n *node) error
	walk = func(n *node) error {
		if n.XMLName.Local == "SiafEntry" {
			a, err := parseEntry(n)
			if err != nil {
				return err
			}
			if a.Instrument == "" || strings.EqualFold(a.Instrument, instrument) {
				s.Apertures[a.Name] = a
			}
			return nil
		}
		for i := range n.Nodes {
			if err := walk(&n.Nodes[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(&root); err != nil {
		return nil, err
	}
	if len(s.Apertures) == 0 {
		return nil, fmt.Errorf("no %s apertures in SIAF", instrument)
	}
	return s, nil
}

var angleUnits = map[string]float64{
	"DEGREES": 1,
	"RADIANS": 180 / math.Pi,
	"ARCSECS": 1.0 / 3600,
}

func parseEntry(n *node) (*Aperture, error) {
	fields := map[string]string{}
	for _, c := range n.Nodes {
		tag := c.XMLName.Local
		if len(c.Nodes) == 0 {
			fields[tag] = strings.TrimSpace(c.Content)
			continue
		}
		// value/units pair, converted to degrees
		var value, units string
		for _, cc := range c.Nodes {
			switch cc.XMLName.Local {
			case "value":
				value = strings.TrimSpace(cc.Content)
			case "units":
				units = strings.TrimSpace(cc.Content)
			}
		}
		if value == "" {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag, err)
		}
		conv, ok := angleUnits[strings.ToUpper(units)]
		if !ok {
			return nil, fmt.Errorf("%s: unknown angle unit %q", tag, units)
		}
		fields[tag] = strconv.FormatFloat(v*conv, 'g', -1, 64)
	}

	p := fieldParser{fields: fields}
	a := &Aperture{
		Name:         fields["AperName"],
		Instrument:   fields["InstrName"],
		Type:         fields["AperType"],
		XDetRef:      p.float("XDetRef", 0),
		YDetRef:      p.float("YDetRef", 0),
		XSciRef:      p.float("XSciRef", 0),
		YSciRef:      p.float("YSciRef", 0),
		XSciSize:     p.float("XSciSize", 0),
		YSciSize:     p.float("YSciSize", 0),
		XSciScale:    p.float("XSciScale", 0),
		YSciScale:    p.float("YSciScale", 0),
		V2Ref:        p.float("V2Ref", 0),
		V3Ref:        p.float("V3Ref", 0),
		V3IdlYAngle:  p.float("V3IdlYAngle", p.float("V3IdlYAng", 0)),
		VIdlParity:   p.float("VIdlParity", 1),
		DetSciYAngle: p.float("DetSciYAngle", 0),
		DetSciParity: p.float("DetSciParity", 1),
		Degree:       int(p.float("Sci2IdlDeg", 0)),
		Fields:       fields,
	}
	if a.Name == "" {
		return nil, fmt.Errorf("SiafEntry without AperName")
	}
	for k := 0; k < 4; k++ {
		a.XIdlVerts[k] = p.float(fmt.Sprintf("XIdlVert%d", k+1), 0)
		a.YIdlVerts[k] = p.float(fmt.Sprintf("YIdlVert%d", k+1), 0)
	}

	d := a.Degree + 1
	a.Sci2IdlX = mat.NewDense(d, d, nil)
	a.Sci2IdlY = mat.NewDense(d, d, nil)
	a.Idl2SciX = mat.NewDense(d, d, nil)
	a.Idl2SciY = mat.NewDense(d, d, nil)
	for i := 1; i <= a.Degree; i++ {
		for j := 0; j <= i; j++ {
			a.Sci2IdlX.Set(i, j, p.float(fmt.Sprintf("Sci2IdlX%d%d", i, j), 0))
			a.Sci2IdlY.Set(i, j, p.float(fmt.Sprintf("Sci2IdlY%d%d", i, j), 0))
			a.Idl2SciX.Set(i, j, p.float(fmt.Sprintf("Idl2SciX%d%d", i, j), 0))
			a.Idl2SciY.Set(i, j, p.float(fmt.Sprintf("Idl2SciY%d%d", i, j), 0))
		}
	}
	if p.err != nil {
		return nil, fmt.Errorf("aperture %s: %w", a.Name, p.err)
	}
	return a, nil
}

// fieldParser keeps the first conversion error.
type fieldParser struct {
	fields map[string]string
	err    error
}

func (p *fieldParser) float(key string, def float64) float64 {
	s, ok := p.fields[key]
	if !ok || s == "" || strings.EqualFold(s, "None") {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%s: %w", key, err)
		}
		return def
	}
	return v
}

func (a *Aperture) String() string {
	return fmt.Sprintf("%s (%s, V2/V3 ref %.3f, %.3f)", a.Name, a.Instrument, a.V2Ref, a.V3Ref)
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// DetToSci converts detector pixels to science pixels.
func (a *Aperture) DetToSci(x, y float64) (float64, float64) {
	s, c := math.Sincos(rad(a.DetSciYAngle))
	dx, dy := x-a.XDetRef, y-a.YDetRef
	return a.XSciRef + a.DetSciParity*(dx*c+dy*s), a.YSciRef - dx*s + dy*c
}

// SciToDet is the inverse of DetToSci.
func (a *Aperture) SciToDet(x, y float64) (float64, float64) {
	s, c := math.Sincos(rad(a.DetSciYAngle))
	dx, dy := a.DetSciParity*(x-a.XSciRef), y-a.YSciRef
	return a.XDetRef + dx*c - dy*s, a.YDetRef + dx*s + dy*c
}

func poly(cx, cy *mat.Dense, deg int, dx, dy float64) (float64, float64) {
	var x, y float64
	for i := 1; i <= deg; i++ {
		for j := 0; j <= i; j++ {
			t := math.Pow(dx, float64(i-j)) * math.Pow(dy, float64(j))
			x += cx.At(i, j) * t
			y += cy.At(i, j) * t
		}
	}
	return x, y
}

// SciToIdl converts science pixels to ideal-frame arcsec.
func (a *Aperture) SciToIdl(x, y float64) (float64, float64) {
	return poly(a.Sci2IdlX, a.Sci2IdlY, a.Degree, x-a.XSciRef, y-a.YSciRef)
}

// IdlToSci converts ideal-frame arcsec to science pixels.
func (a *Aperture) IdlToSci(x, y float64) (float64, float64) {
	sx, sy := poly(a.Idl2SciX, a.Idl2SciY, a.Degree, x, y)
	return sx + a.XSciRef, sy + a.YSciRef
}

// IdlToTel converts ideal-frame arcsec to V2/V3 in the planar approximation.
func (a *Aperture) IdlToTel(x, y float64) (float64, float64) {
	s, c := math.Sincos(rad(a.V3IdlYAngle))
	px := a.VIdlParity * x
	return a.V2Ref + px*c + y*s, a.V3Ref - px*s + y*c
}

// TelToIdl is the inverse of IdlToTel.
func (a *Aperture) TelToIdl(v2, v3 float64) (float64, float64) {
	s, c := math.Sincos(rad(a.V3IdlYAngle))
	dv2, dv3 := v2-a.V2Ref, v3-a.V3Ref
	return a.VIdlParity * (dv2*c - dv3*s), dv2*s + dv3*c
}

var frameOrder = map[Frame]int{Det: 0, Sci: 1, Idl: 2, Tel: 3}

// Convert moves (x, y) from one frame to another by chaining the single-step
// transforms.
func (a *Aperture) Convert(x, y float64, from, to Frame) (float64, float64, error) {
	i, ok := frameOrder[from]
	if !ok {
		return 0, 0, fmt.Errorf("unknown frame %q", from)
	}
	j, ok := frameOrder[to]
	if !ok {
		return 0, 0, fmt.Errorf("unknown frame %q", to)
	}
	up := []func(float64, float64) (float64, float64){a.DetToSci, a.SciToIdl, a.IdlToTel}
	down := []func(float64, float64) (float64, float64){a.SciToDet, a.IdlToSci, a.TelToIdl}
	for ; i < j; i++ {
		x, y = up[i](x, y)
	}
	for ; i > j; i-- {
		x, y = down[i-1](x, y)
	}
	return x, y, nil
}

// Corners returns the aperture outline in frame.
func (a *Aperture) Corners(frame Frame) ([4]float64, [4]float64, error) {
	var xs, ys [4]float64
	for k := range xs {
		x, y, err := a.Convert(a.XIdlVerts[k], a.YIdlVerts[k], Idl, frame)
		if err != nil {
			return xs, ys, err
		}
		xs[k], ys[k] = x, y
	}
	return xs, ys, nil
}

// Reference returns the aperture reference point in frame.
func (a *Aperture) Reference(frame Frame) (float64, float64, error) {
	return a.Convert(a.V2Ref, a.V3Ref, Tel, frame)
}

// PixelScale is the mean science-frame pixel scale in arcsec.
func (a *Aperture) PixelScale() float64 {
	switch {
	case a.XSciScale > 0 && a.YSciScale > 0:
		return (a.XSciScale + a.YSciScale) / 2
	case a.XSciScale > 0:
		return a.XSciScale
	default:
		return a.YSciScale
	}
}
