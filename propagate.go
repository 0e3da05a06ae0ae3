package gopsf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Observer receives a copy of the wavefront after each step. It is the hook
// used for intermediate-plane display.
type Observer func(step int, w *Wavefront)

// PropagateOptions controls how an OpticalSystem is transformed. The zero value
// is valid: automatic strategies, no FFT library, single-threaded.
type PropagateOptions struct {
	FFTAvailable        bool
	FFTThreads          int
	ForceStrategy       StrategyKind
	DisableSemiAnalytic bool
	Observer            Observer
	Logger              *slog.Logger
}

// OpticalSystem is an ordered optical train. The first element must be a
// Pupil; the last must be a Detector.
type OpticalSystem struct {
	Name     string
	Elements []OpticalElement
	// NPix is the pupil array size; PupilDiameter its physical width in metres.
	// A zero PupilDiameter takes the first pupil's diameter.
	NPix          int
	PupilDiameter float64
	// Oversample is the image-plane sampling factor for intermediate planes.
	Oversample int
}

// Step is one element of a planned system and the transform that precedes it.
type Step struct {
	Element   OpticalElement
	Transform *Strategy
}

// SystemPlan is an OpticalSystem with a strategy resolved at every boundary.
// It is read-only and safe to propagate from several goroutines.
type SystemPlan struct {
	System  *OpticalSystem
	Steps   []Step
	Notices []Notice

	opts PropagateOptions
}

func (s *OpticalSystem) diameter() float64 {
	if s.PupilDiameter > 0 {
		return s.PupilDiameter
	}
	if len(s.Elements) > 0 {
		if p, ok := s.Elements[0].(*Pupil); ok {
			return p.Diameter
		}
	}
	return 0
}

func (s *OpticalSystem) oversample() int {
	if s.Oversample < 1 {
		return 1
	}
	return s.Oversample
}

// Plan validates the element sequence and selects a transform for every
// pupil↔image boundary.
func (s *OpticalSystem) Plan(opts PropagateOptions) (*SystemPlan, error) {
	if len(s.Elements) == 0 {
		return nil, configErr(s.Name, 0, ErrInvalidSystem, "no optical elements")
	}
	if _, ok := s.Elements[0].(*Pupil); !ok {
		return nil, configErr(s.Elements[0].Name(), 0, ErrInvalidSystem, "first element must be a pupil")
	}
	if _, ok := s.Elements[len(s.Elements)-1].(*Detector); !ok {
		return nil, configErr(s.Elements[len(s.Elements)-1].Name(), 0, ErrInvalidSystem, "last element must be a detector")
	}
	if s.NPix < 2 {
		return nil, configErr(s.Name, 0, ErrInvalidSampling, "pupil array of %d pixels", s.NPix)
	}
	if s.diameter() <= 0 {
		return nil, configErr(s.Name, 0, ErrInvalidSystem, "pupil diameter must be positive")
	}

	plan := &SystemPlan{System: s, opts: opts}
	plane := PupilPlane
	var forward StrategyKind
	for i, e := range s.Elements {
		step := Step{Element: e}
		switch e.Plane() {
		case PupilPlane:
			if plane == ImagePlane {
				step.Transform = &Strategy{Kind: forward, Oversample: s.oversample(), Inverse: true}
				plane = PupilPlane
			}
		case ImagePlane:
			if plane == PupilPlane {
				coronagraphic := i+1 < len(s.Elements) && s.Elements[i+1].Plane() == PupilPlane
				st, notices, err := SelectStrategy(StrategyRequest{
					Target:              e,
					Coronagraphic:       coronagraphic,
					Oversample:          s.oversample(),
					GridSize:            s.NPix,
					FFTAvailable:        opts.FFTAvailable,
					Force:               opts.ForceStrategy,
					DisableSemiAnalytic: opts.DisableSemiAnalytic,
				})
				if err != nil {
					return nil, err
				}
				plan.Notices = append(plan.Notices, notices...)
				step.Transform = &st
				forward = st.Kind
				if st.Kind != SemiAnalytic {
					plane = ImagePlane
				}
			}
		case DetectorPlane:
			if plane != PupilPlane {
				return nil, configErr(e.Name(), 0, ErrInvalidSystem, "detector must follow a pupil-plane element")
			}
			if i != len(s.Elements)-1 {
				return nil, configErr(e.Name(), 0, ErrInvalidSystem, "detector must be the last element")
			}
			force := opts.ForceStrategy
			if force == SemiAnalytic {
				// semi-analytic applies to the occulter boundary only
				force = AutoStrategy
			}
			st, notices, err := SelectStrategy(StrategyRequest{
				Target:       e,
				Oversample:   s.oversample(),
				GridSize:     s.NPix,
				FFTAvailable: opts.FFTAvailable,
				Force:        force,
			})
			if err != nil {
				return nil, err
			}
			plan.Notices = append(plan.Notices, notices...)
			step.Transform = &st
			plane = DetectorPlane
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// Strategies lists the forward strategies in step order.
func (p *SystemPlan) Strategies() []Strategy {
	var out []Strategy
	for _, st := range p.Steps {
		if st.Transform != nil && !st.Transform.Inverse {
			out = append(out, *st.Transform)
		}
	}
	return out
}

// Propagate plans the system and computes the monochromatic detector intensity.
func (s *OpticalSystem) Propagate(ctx context.Context, wavelength float64, opts PropagateOptions) (*mat.Dense, error) {
	plan, err := s.Plan(opts)
	if err != nil {
		return nil, err
	}
	logger := plan.logger()
	for _, n := range plan.Notices {
		logger.Warn("⚠️ strategy notice", "kind", n.Kind, "message", n.Message)
	}
	return plan.Propagate(ctx, wavelength)
}

func (p *SystemPlan) logger() *slog.Logger {
	if p.opts.Logger != nil {
		return p.opts.Logger
	}
	return slog.Default()
}

// Propagate runs the planned system at one wavelength and returns |E|² on the
// oversampled detector grid. The entrance wavefront is normalised to unit
// intensity after the first pupil, so the result is the fraction of the
// collected light that lands in each detector pixel.
func (p *SystemPlan) Propagate(ctx context.Context, wavelength float64) (*mat.Dense, error) {
	if wavelength <= 0 {
		return nil, configErr(p.System.Name, wavelength, ErrInvalidSpectrum, "wavelength must be positive")
	}
	s := p.System
	start := time.Now()
	w := NewWavefront(wavelength, s.NPix, s.diameter(), s.oversample())

	for i, st := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.Transform != nil {
			if err := p.transform(w, st); err != nil {
				return nil, err
			}
		}
		if st.Transform == nil || st.Transform.Kind != SemiAnalytic || st.Transform.Inverse {
			if err := st.Element.Apply(w); err != nil {
				return nil, err
			}
		}
		if i == 0 {
			w.Normalize()
		}
		if p.opts.Observer != nil {
			p.opts.Observer(i, w.Copy())
		}
	}

	p.logger().Debug("propagated",
		"system", s.Name,
		"wavelength", wavelength,
		"elapsed", time.Since(start))
	return w.Intensity(), nil
}

func (p *SystemPlan) transform(w *Wavefront, st Step) error {
	t := st.Transform
	switch {
	case t.Inverse:
		if w.lattice.kind == FFT {
			fftToPupil(w, p.opts.FFTThreads)
		} else {
			mftToPupil(w)
		}
		return nil
	case t.Kind == SemiAnalytic:
		occ, ok := st.Element.(*Occulter)
		if !ok {
			return configErr(st.Element.Name(), w.Wavelength, ErrUnsupportedOcculter, "semi-analytic transform needs an occulter")
		}
		semiAnalytic(w, occ, t.Oversample)
		return nil
	}

	if d, ok := st.Element.(*Detector); ok {
		if t.Kind != FFT {
			mftToDetector(w, d)
			return nil
		}
		q, ok := nativeOversample(w, d)
		if !ok {
			return configErr(d.Label, w.Wavelength, ErrInvalidSampling,
				"detector sampling %.6g\"/px is not an integer fraction of λ/D = %.6g\"",
				d.PixelScale/float64(d.oversample()), w.LambdaOverD())
		}
		n, _ := w.Dims()
		if !FFTFriendly(n * q) {
			return configErr(d.Label, w.Wavelength, ErrInvalidSampling, "FFT grid %d has prime factors other than 2, 3 and 5", n*q)
		}
		if d.samples() > n*q {
			return configErr(d.Label, w.Wavelength, ErrInvalidSampling,
				"detector field of %d samples exceeds FFT grid %d", d.samples(), n*q)
		}
		fftToDetector(w, d, q, p.opts.FFTThreads)
		return nil
	}

	switch t.Kind {
	case FFT:
		fftToImage(w, t.Oversample, p.opts.FFTThreads)
	case MatrixDFT:
		mftToImage(w, t.GridSize, t.Oversample, t.Centering)
	default:
		return configErr(st.Element.Name(), w.Wavelength, ErrInvalidSystem, "unplanned strategy %s", t.Kind)
	}
	return nil
}

// Describe returns a one-line summary of the planned transforms.
func (p *SystemPlan) Describe() string {
	out := p.System.Name
	for _, st := range p.Steps {
		if st.Transform != nil {
			out += fmt.Sprintf(" -[%s]->", st.Transform)
		} else {
			out += " ->"
		}
		out += " " + st.Element.Name()
	}
	return out
}
