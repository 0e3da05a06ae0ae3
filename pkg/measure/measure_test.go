package measure

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
)

func gaussianImage(n int, g Gaussian) *mat.Dense {
	img := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			img.Set(i, j, g.at(float64(i), float64(j)))
		}
	}
	return img
}

func TestFitGaussianMethods(t *testing.T) {
	truth := Gaussian{Amplitude: 3, Row: 15.3, Col: 16.7, Sigma: 2, Background: 0.01}
	img := gaussianImage(32, truth)
	for _, m := range []Method{LevenbergMarquardt, NelderMead, LBFGS} {
		t.Run(string(m), func(t *testing.T) {
			g, err := FitGaussian(img, FitOptions{Method: m, Window: 8})
			if err != nil {
				t.Fatalf("FitGaussian: %v", err)
			}
			if !scalar.EqualWithinRel(g.FWHM(), truth.FWHM(), 5e-3) {
				t.Errorf("FWHM = %g, want %g", g.FWHM(), truth.FWHM())
			}
			if math.Abs(g.Row-truth.Row) > 2e-2 || math.Abs(g.Col-truth.Col) > 2e-2 {
				t.Errorf("centre = (%g, %g), want (%g, %g)", g.Row, g.Col, truth.Row, truth.Col)
			}
			if g.Method != m {
				t.Errorf("method = %s", g.Method)
			}
		})
	}
	if _, err := FitGaussian(img, FitOptions{Method: "simplex"}); err == nil {
		t.Error("expected error for unknown method")
	}
	if _, err := FitGaussian(mat.NewDense(4, 4, nil), FitOptions{}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("empty image err = %v", err)
	}
}

func TestCentroidAndEncircledEnergy(t *testing.T) {
	truth := Gaussian{Amplitude: 1, Row: 20, Col: 20, Sigma: 2.5}
	img := gaussianImage(41, truth)

	cy, cx, err := Centroid(img)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	if math.Abs(cy-20) > 1e-9 || math.Abs(cx-20) > 1e-9 {
		t.Errorf("centroid = (%g, %g)", cy, cx)
	}

	// continuous Gaussian: EE50 at sigma·sqrt(2 ln 2)
	r50, err := EncircledEnergyRadius(img, cy, cx, 0.5)
	if err != nil {
		t.Fatalf("EncircledEnergyRadius: %v", err)
	}
	if want := truth.Sigma * math.Sqrt(2*math.Ln2); math.Abs(r50-want) > 0.1*want {
		t.Errorf("EE50 radius = %g px, want about %g", r50, want)
	}

	all, err := EncircledEnergy(img, cy, cx, 100)
	if err != nil || !scalar.EqualWithinAbs(all, 1, 1e-12) {
		t.Errorf("EE(100 px) = %g, %v", all, err)
	}
	ee, _ := EncircledEnergy(img, cy, cx, r50)
	if math.Abs(ee-0.5) > 0.1 {
		t.Errorf("EE(r50) = %g", ee)
	}

	if _, err := EncircledEnergyRadius(img, cy, cx, 1.5); err == nil {
		t.Error("expected error for fraction above one")
	}
	if _, _, err := Centroid(mat.NewDense(3, 3, nil)); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("empty centroid err = %v", err)
	}
}

func TestMeasureAiryCore(t *testing.T) {
	const (
		diameter   = 6.5
		wavelength = 2e-6
	)
	lamD := wavelength / diameter * gopsf.ArcsecPerRadian
	scale := lamD / 4
	sys := &gopsf.OpticalSystem{
		Name: "airy",
		Elements: []gopsf.OpticalElement{
			&gopsf.Pupil{Label: "aperture", Diameter: diameter},
			&gopsf.Detector{Label: "det", PixelScale: scale, FOVPixels: 33, Oversample: 1},
		},
		NPix: 64,
	}
	psf, err := sys.Propagate(context.Background(), wavelength, gopsf.PropagateOptions{})
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	s, err := Measure(psf, scale, FitOptions{Window: 3})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !s.FitSucceeded {
		t.Fatal("Gaussian fit failed on an Airy core")
	}
	// an unobscured Airy core has FWHM close to 1.03 λ/D
	if math.Abs(s.FWHM/lamD-1.03) > 0.1 {
		t.Errorf("FWHM = %.3f λ/D", s.FWHM/lamD)
	}
	if s.EE80 <= s.EE50 {
		t.Errorf("EE80 %g not beyond EE50 %g", s.EE80, s.EE50)
	}
	if math.Abs(s.CentroidRow-16) > 0.05 || math.Abs(s.CentroidCol-16) > 0.05 {
		t.Errorf("centroid = (%g, %g), want detector centre", s.CentroidRow, s.CentroidCol)
	}
}
