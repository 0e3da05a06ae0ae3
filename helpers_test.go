package gopsf

import (
	"log/slog"
	"math"
	"os"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const (
	testDiameter   = 6.5
	testWavelength = 2e-6
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// lambdaOverD is λ/D in arcsec for the test telescope.
func lambdaOverD(wavelength float64) float64 {
	return wavelength / testDiameter * ArcsecPerRadian
}

// coronagraph builds pupil → occulter → Lyot stop → detector.
func coronagraph(occ *Occulter, npix, oversample int) *OpticalSystem {
	return &OpticalSystem{
		Name: "test coronagraph",
		Elements: []OpticalElement{
			&Pupil{Label: "primary", Diameter: testDiameter, Obscuration: 0.8},
			occ,
			&Pupil{Label: "lyot", Diameter: 0.85 * testDiameter, Obscuration: 1.2},
			&Detector{Label: "detector", PixelScale: 0.03, FOVPixels: 16, Oversample: 2},
		},
		NPix:       npix,
		Oversample: oversample,
	}
}

func imager(npix int, det *Detector) *OpticalSystem {
	return &OpticalSystem{
		Name: "test imager",
		Elements: []OpticalElement{
			&Pupil{Label: "primary", Diameter: testDiameter},
			det,
		},
		NPix:       npix,
		Oversample: 2,
	}
}

// maxRelDiff returns max|a-b| / max|a|.
func maxRelDiff(t *testing.T, a, b *mat.Dense) float64 {
	t.Helper()
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		t.Fatalf("shape mismatch: %dx%d vs %dx%d", ar, ac, br, bc)
	}
	peak := mat.Max(a)
	if peak == 0 {
		t.Fatal("reference image is dark")
	}
	var diff float64
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			diff = math.Max(diff, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return diff / peak
}
