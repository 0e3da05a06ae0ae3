package gopsf

import (
	"fmt"
	"strings"
)

// StrategyKind names a pupil↔image transform method.
type StrategyKind int

const (
	// AutoStrategy lets SelectStrategy decide.
	AutoStrategy StrategyKind = iota
	MatrixDFT
	FFT
	SemiAnalytic
)

func (k StrategyKind) String() string {
	switch k {
	case AutoStrategy:
		return "auto"
	case MatrixDFT:
		return "mft"
	case FFT:
		return "fft"
	case SemiAnalytic:
		return "semi-analytic"
	}
	return fmt.Sprintf("strategy(%d)", int(k))
}

// ParseStrategy accepts the names produced by String plus a few aliases.
func ParseStrategy(s string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return AutoStrategy, nil
	case "mft", "matrix", "dft", "matrixdft":
		return MatrixDFT, nil
	case "fft":
		return FFT, nil
	case "sam", "semi-analytic", "semianalytic":
		return SemiAnalytic, nil
	}
	return AutoStrategy, fmt.Errorf("unknown strategy %q", s)
}

// Strategy is a resolved transform for one boundary.
type Strategy struct {
	Kind       StrategyKind
	Oversample int
	// GridSize is the number of image-plane samples per axis produced by the
	// forward transform (N·Oversample for occulter planes, the oversampled
	// detector size for detectors).
	GridSize  int
	Centering Centering
	// Inverse marks an image→pupil transform; it reuses the lattice recorded
	// by the forward transform.
	Inverse bool
}

func (s Strategy) String() string {
	if s.Inverse {
		return s.Kind.String() + "-inv"
	}
	return fmt.Sprintf("%s(%d, x%d)", s.Kind, s.GridSize, s.Oversample)
}

// StrategyRequest carries everything SelectStrategy looks at.
type StrategyRequest struct {
	// Target is the image-plane element that the forward transform feeds.
	Target OpticalElement
	// Coronagraphic is set when the target occulter is followed by a Lyot
	// (pupil-plane) stop.
	Coronagraphic       bool
	Oversample          int
	GridSize            int
	FFTAvailable        bool
	Force               StrategyKind
	DisableSemiAnalytic bool
}

// SelectStrategy picks the transform for one pupil→image boundary. The choice
// depends only on the request.
func SelectStrategy(req StrategyRequest) (Strategy, []Notice, error) {
	q := req.Oversample
	if q < 1 {
		q = 1
	}
	if req.GridSize < 1 {
		return Strategy{}, nil, configErr(nameOf(req.Target), 0, ErrInvalidSampling, "grid size %d", req.GridSize)
	}

	switch t := req.Target.(type) {
	case *Detector:
		return selectDetector(req, t)
	case *Occulter:
		return selectOcculter(req, t, q)
	default:
		return Strategy{}, nil, configErr(nameOf(req.Target), 0, ErrInvalidSystem,
			"no forward transform targets a %T", req.Target)
	}
}

func selectDetector(req StrategyRequest, d *Detector) (Strategy, []Notice, error) {
	s := Strategy{Kind: MatrixDFT, Oversample: d.oversample(), GridSize: d.samples(), Centering: CenterSymmetric}
	switch req.Force {
	case AutoStrategy, MatrixDFT:
		return s, nil, nil
	case FFT:
		if !req.FFTAvailable {
			return s, []Notice{demoted(d.Label, "FFT library unavailable, detector uses matrix DFT")}, nil
		}
		// the native sampling check depends on the wavelength and runs at transform time
		s.Kind = FFT
		s.Centering = CenterFFT
		return s, nil, nil
	case SemiAnalytic:
		return Strategy{}, nil, configErr(d.Label, 0, ErrUnsupportedOcculter,
			"semi-analytic transform requires a circular occulter, target is a detector")
	}
	return Strategy{}, nil, configErr(d.Label, 0, ErrInvalidSystem, "unknown strategy %s", req.Force)
}

func selectOcculter(req StrategyRequest, o *Occulter, q int) (Strategy, []Notice, error) {
	m := req.GridSize * q
	full := Strategy{Kind: MatrixDFT, Oversample: q, GridSize: m, Centering: CenterFFT}

	kind := req.Force
	if kind == AutoStrategy {
		switch o.Shape {
		case CircularOcculter:
			kind = MatrixDFT
			if req.Coronagraphic && !req.DisableSemiAnalytic {
				kind = SemiAnalytic
			}
		case WedgeOcculter, BarOcculter:
			kind = FFT
		default:
			return Strategy{}, nil, configErr(o.Label, 0, ErrUnsupportedOcculter, "no transform supports %s occulters", o.Shape)
		}
	} else if o.Shape < CircularOcculter || o.Shape > BarOcculter {
		return Strategy{}, nil, configErr(o.Label, 0, ErrUnsupportedOcculter, "no transform supports %s occulters", o.Shape)
	}

	switch kind {
	case MatrixDFT:
		return full, nil, nil
	case SemiAnalytic:
		if o.Shape != CircularOcculter {
			return Strategy{}, nil, configErr(o.Label, 0, ErrUnsupportedOcculter,
				"semi-analytic transform requires a circular occulter, got %s", o.Shape)
		}
		if !req.Coronagraphic {
			return Strategy{}, nil, configErr(o.Label, 0, ErrUnsupportedOcculter,
				"semi-analytic transform requires a Lyot stop after the occulter")
		}
		full.Kind = SemiAnalytic
		return full, nil, nil
	case FFT:
		if !req.FFTAvailable {
			return full, []Notice{demoted(o.Label, fmt.Sprintf("FFT library unavailable, %s occulter uses full-grid matrix DFT", o.Shape))}, nil
		}
		if !FFTFriendly(m) {
			return Strategy{}, nil, configErr(o.Label, 0, ErrInvalidSampling,
				"FFT grid %d = %d x %d has prime factors other than 2, 3 and 5", m, req.GridSize, q)
		}
		full.Kind = FFT
		return full, nil, nil
	}
	return Strategy{}, nil, configErr(o.Label, 0, ErrInvalidSystem, "unknown strategy %s", kind)
}

func demoted(element, msg string) Notice {
	return Notice{Kind: NoticeStrategyDemoted, Message: element + ": " + msg}
}

func nameOf(e OpticalElement) string {
	if e == nil {
		return ""
	}
	return e.Name()
}
