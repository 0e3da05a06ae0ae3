package fits

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
)

// ReadOPD loads an optical path difference map from the first HDU holding
// image data. The pixel scale in metres comes from PIXELSCL (0 when absent).
// Values are converted to metres using BUNIT (m, um, micron, nm).
func ReadOPD(path string) (*mat.Dense, float64, error) {
	hdus, err := ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	for _, h := range hdus {
		if h.Data == nil {
			continue
		}
		scale, _ := h.Header.Float("PIXELSCL")
		data := h.Data
		switch h.Header.String("BUNIT") {
		case "", "m", "meter", "meters":
		case "um", "micron", "microns":
			data.Scale(1e-6, data)
		case "nm":
			data.Scale(1e-9, data)
		default:
			return nil, 0, fmt.Errorf("%s: unsupported OPD unit %q", path, h.Header.String("BUNIT"))
		}
		return data, scale, nil
	}
	return nil, 0, fmt.Errorf("%s: no image data", path)
}

// PSFHDUs lays out a result as the primary oversampled image followed by the
// detector-sampled DET_SAMP extension.
func PSFHDUs(r *gopsf.PSFResult) ([]*HDU, error) {
	if r == nil || r.Oversampled == nil {
		return nil, errors.New("empty PSF result")
	}
	primary := &HDU{Data: r.Oversampled}
	h := &primary.Header
	h.Set("EXTNAME", "OVERSAMP", "oversampled PSF")
	if r.ID != "" {
		h.Set("CALC_ID", r.ID, "calculation identifier")
	}
	h.Set("INSTRUME", r.Instrument, "instrument")
	h.Set("FILTER", r.Filter, "filter")
	if r.Mask != "" {
		h.Set("CORONMSK", r.Mask, "coronagraph mask")
	}
	h.Set("OVERSAMP", r.Oversample, "oversampling relative to detector pixels")
	h.Set("DET_SAMP", r.Oversample, "oversampling of this HDU")
	h.Set("PIXELSCL", r.PixelScale/float64(max(r.Oversample, 1)), "arcsec per pixel")
	h.Set("DETPXSCL", r.PixelScale, "arcsec per detector pixel")
	h.Set("NWAVES", len(r.Wavelengths), "number of wavelengths")
	for i, w := range r.Wavelengths {
		h.Set(fmt.Sprintf("WAVE%d", i+1), w, "wavelength [m]")
		h.Set(fmt.Sprintf("WGHT%d", i+1), r.Weights[i], "relative weight")
	}
	for i, s := range r.Strategies {
		h.Set(fmt.Sprintf("PLANE%d", i+1), s.String(), "transform into this plane")
	}
	for i, n := range r.Notices {
		h.Set(fmt.Sprintf("NOTICE%d", i+1), string(n.Kind), n.Message)
	}

	hdus := []*HDU{primary}
	if r.Detector != nil {
		det := &HDU{Data: r.Detector}
		det.Header.Set("EXTNAME", "DET_SAMP", "detector-sampled PSF")
		det.Header.Set("OVERSAMP", 1, "")
		det.Header.Set("PIXELSCL", r.PixelScale, "arcsec per pixel")
		hdus = append(hdus, det)
	}
	return hdus, nil
}

// WritePSF writes a result to path.
func WritePSF(path string, r *gopsf.PSFResult) error {
	hdus, err := PSFHDUs(r)
	if err != nil {
		return err
	}
	return WriteFile(path, hdus)
}
