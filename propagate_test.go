package gopsf

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSemiAnalyticMatchesMatrixDFT(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		npix       int
		oversample int
		radius     float64 // in λ/D at testWavelength
		wavelength float64
	}{
		{"q2 r3", 32, 2, 3, testWavelength},
		{"q4 r2", 32, 4, 2, testWavelength},
		{"odd grid", 33, 3, 4, testWavelength},
		{"blue", 32, 2, 3, 1.4e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occ := &Occulter{Label: "spot", Shape: CircularOcculter, Radius: tt.radius * lambdaOverD(testWavelength)}
			sys := coronagraph(occ, tt.npix, tt.oversample)

			plan, err := sys.Plan(PropagateOptions{Logger: testLogger()})
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if got := plan.Strategies()[0].Kind; got != SemiAnalytic {
				t.Fatalf("auto strategy = %s, want semi-analytic", got)
			}

			sam, err := sys.Propagate(ctx, tt.wavelength, PropagateOptions{Logger: testLogger()})
			if err != nil {
				t.Fatalf("semi-analytic Propagate failed: %v", err)
			}
			mft, err := sys.Propagate(ctx, tt.wavelength, PropagateOptions{DisableSemiAnalytic: true, Logger: testLogger()})
			if err != nil {
				t.Fatalf("matrix DFT Propagate failed: %v", err)
			}
			if d := maxRelDiff(t, mft, sam); d > 1e-6 {
				t.Errorf("semi-analytic differs from matrix DFT by %.3g relative", d)
			}
		})
	}
}

func TestWedgeFFTMatchesMatrixDFT(t *testing.T) {
	ctx := context.Background()
	for _, shape := range []OcculterShape{WedgeOcculter, BarOcculter} {
		occ := &Occulter{Label: "wedge", Shape: shape, Width: 0.2, Slope: 0.05, Offset: 1}
		sys := coronagraph(occ, 32, 2)

		fftPSF, err := sys.Propagate(ctx, testWavelength, PropagateOptions{FFTAvailable: true, FFTThreads: 2, Logger: testLogger()})
		if err != nil {
			t.Fatalf("%s FFT Propagate failed: %v", shape, err)
		}

		plan, err := sys.Plan(PropagateOptions{})
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		if len(plan.Notices) != 1 || plan.Notices[0].Kind != NoticeStrategyDemoted {
			t.Fatalf("%s without FFT: notices = %v, want one strategy_demoted", shape, plan.Notices)
		}
		if got := plan.Strategies()[0].Kind; got != MatrixDFT {
			t.Fatalf("%s without FFT: strategy = %s, want mft", shape, got)
		}
		mftPSF, err := plan.Propagate(ctx, testWavelength)
		if err != nil {
			t.Fatalf("%s matrix DFT Propagate failed: %v", shape, err)
		}
		if d := maxRelDiff(t, mftPSF, fftPSF); d > 1e-9 {
			t.Errorf("%s: FFT differs from matrix DFT by %.3g relative", shape, d)
		}
	}
}

func TestAiryFirstDarkRing(t *testing.T) {
	// 4 samples per λ/D, odd field so the optical axis sits on pixel 32
	det := &Detector{Label: "det", PixelScale: lambdaOverD(testWavelength) / 4, FOVPixels: 65, Oversample: 1}
	psf, err := imager(64, det).Propagate(context.Background(), testWavelength, PropagateOptions{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	peak := psf.At(32, 32)
	if peak != mat.Max(psf) {
		t.Fatalf("peak %g is not on the optical axis (max %g)", peak, mat.Max(psf))
	}
	// 5 pixels = 1.25 λ/D, just past the first zero at 1.22 λ/D
	for _, p := range [][2]int{{32, 37}, {37, 32}, {32, 27}, {27, 32}} {
		if v := psf.At(p[0], p[1]); v > 5e-3*peak {
			t.Errorf("intensity at %v = %.3g of peak, want a dark ring", p, v/peak)
		}
	}
	// first bright ring peaks near 1.64 λ/D
	if v := psf.At(32, 39); v < 5e-3*peak {
		t.Errorf("intensity at 1.75 λ/D = %.3g of peak, want the first bright ring", v/peak)
	}
	if flux := mat.Sum(psf); flux > 1+1e-9 || flux < 0.8 {
		t.Errorf("detector flux = %g, want most of the unit entrance flux", flux)
	}
}

func TestDetectorFFTPath(t *testing.T) {
	det := &Detector{Label: "det", PixelScale: lambdaOverD(testWavelength) / 2, FOVPixels: 32, Oversample: 1}
	sys := imager(32, det)
	psf, err := sys.Propagate(context.Background(), testWavelength, PropagateOptions{
		FFTAvailable: true, ForceStrategy: FFT, Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if r, c := psf.Dims(); r != 32 || c != 32 {
		t.Fatalf("dims = %dx%d, want 32x32", r, c)
	}
	if psf.At(16, 16) != mat.Max(psf) {
		t.Errorf("FFT detector peak is not on pixel 16")
	}

	// 2.5 samples per λ/D has no integer FFT padding
	det.PixelScale = lambdaOverD(testWavelength) / 2.5
	_, err = sys.Propagate(context.Background(), testWavelength, PropagateOptions{
		FFTAvailable: true, ForceStrategy: FFT, Logger: testLogger(),
	})
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) || !errors.Is(err, ErrInvalidSampling) {
		t.Fatalf("err = %v, want ConfigurationError wrapping ErrInvalidSampling", err)
	}
	if cfg.Element != "det" || cfg.Wavelength != testWavelength {
		t.Errorf("error context = (%q, %g), want detector and wavelength", cfg.Element, cfg.Wavelength)
	}
}

func TestDetectorCenteringByStrategy(t *testing.T) {
	const n = 32
	det := &Detector{Label: "det", PixelScale: lambdaOverD(testWavelength) / 2, FOVPixels: n, Oversample: 1}
	sys := imager(32, det)
	images := map[StrategyKind]*mat.Dense{}
	for _, kind := range []StrategyKind{MatrixDFT, FFT} {
		psf, err := sys.Propagate(context.Background(), testWavelength, PropagateOptions{
			FFTAvailable: true, ForceStrategy: kind, Logger: testLogger(),
		})
		if err != nil {
			t.Fatalf("%s: Propagate failed: %v", kind, err)
		}
		images[kind] = psf
	}

	// the matrix DFT is symmetric about the gap between the central pixels
	mft := images[MatrixDFT]
	tol := 1e-9 * mat.Max(mft)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if d := math.Abs(mft.At(i, j) - mft.At(n-1-i, n-1-j)); d > tol {
				t.Fatalf("mft (%d,%d) differs from its mirror by %g", i, j, d)
			}
		}
	}

	// the FFT crop keeps its origin on pixel n/2, half a pixel away
	fft := images[FFT]
	tol = 1e-9 * mat.Max(fft)
	for i := 1; i < n; i++ {
		for j := 1; j < n; j++ {
			if d := math.Abs(fft.At(i, j) - fft.At(n-i, n-j)); d > tol {
				t.Fatalf("fft (%d,%d) differs from its mirror about %d by %g", i, j, n/2, d)
			}
		}
	}
	if fft.At(n/2, n/2) != mat.Max(fft) {
		t.Errorf("fft peak is not on pixel %d", n/2)
	}
	if d := math.Abs(mft.At(n/2-1, n/2-1) - mft.At(n/2, n/2)); d > 1e-9*mat.Max(mft) {
		t.Errorf("mft central pixels differ by %g", d)
	}
}

func TestUnsupportedCombinations(t *testing.T) {
	tests := []struct {
		name string
		occ  *Occulter
		opts PropagateOptions
		npix int
		want error
	}{
		{"unknown shape", &Occulter{Label: "m", Shape: OcculterShape(9), Radius: 0.1}, PropagateOptions{}, 32, ErrUnsupportedOcculter},
		{"forced semi-analytic on wedge", &Occulter{Label: "m", Shape: WedgeOcculter, Width: 0.1}, PropagateOptions{ForceStrategy: SemiAnalytic}, 32, ErrUnsupportedOcculter},
		{"forced semi-analytic on bar", &Occulter{Label: "m", Shape: BarOcculter, Width: 0.1}, PropagateOptions{ForceStrategy: SemiAnalytic}, 32, ErrUnsupportedOcculter},
		{"FFT on unfriendly grid", &Occulter{Label: "m", Shape: WedgeOcculter, Width: 0.1}, PropagateOptions{FFTAvailable: true}, 28, ErrInvalidSampling},
		{"forced FFT on unfriendly grid", &Occulter{Label: "m", Shape: CircularOcculter, Radius: 0.1}, PropagateOptions{FFTAvailable: true, ForceStrategy: FFT}, 14, ErrInvalidSampling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coronagraph(tt.occ, tt.npix, 1).Propagate(context.Background(), testWavelength, tt.opts)
			var cfg *ConfigurationError
			if !errors.As(err, &cfg) {
				t.Fatalf("err = %v, want *ConfigurationError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if cfg.Element != "m" {
				t.Errorf("element = %q, want the occulter", cfg.Element)
			}
		})
	}
}

func TestPlanRejectsBadSystems(t *testing.T) {
	det := &Detector{Label: "det", PixelScale: 0.03, FOVPixels: 8}
	pupil := &Pupil{Label: "pupil", Diameter: testDiameter}
	occ := &Occulter{Label: "spot", Radius: 0.1}
	tests := []struct {
		name     string
		elements []OpticalElement
	}{
		{"empty", nil},
		{"no entrance pupil", []OpticalElement{occ, pupil, det}},
		{"no detector", []OpticalElement{pupil, occ, pupil}},
		{"detector in image plane", []OpticalElement{pupil, occ, det}},
	}
	for _, tt := range tests {
		sys := &OpticalSystem{Name: tt.name, Elements: tt.elements, NPix: 16}
		if _, err := sys.Plan(PropagateOptions{}); !errors.Is(err, ErrInvalidSystem) {
			t.Errorf("%s: err = %v, want ErrInvalidSystem", tt.name, err)
		}
	}
}

func TestPlanDescribeAndObserver(t *testing.T) {
	occ := &Occulter{Label: "spot", Shape: CircularOcculter, Radius: 0.2}
	sys := coronagraph(occ, 16, 2)
	var planes []string
	opts := PropagateOptions{
		DisableSemiAnalytic: true,
		Logger:              testLogger(),
		Observer: func(step int, w *Wavefront) {
			planes = append(planes, w.Plane.String()+":"+w.Location)
		},
	}
	plan, err := sys.Plan(opts)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	desc := plan.Describe()
	for _, want := range []string{"primary", "mft(32, x2)", "spot", "lyot", "detector"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Describe() = %q, missing %q", desc, want)
		}
	}
	if _, err := plan.Propagate(context.Background(), testWavelength); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	want := []string{"pupil:primary", "image:spot", "pupil:lyot", "detector:detector"}
	if strings.Join(planes, ",") != strings.Join(want, ",") {
		t.Errorf("observed planes %v, want %v", planes, want)
	}
}

func TestPropagateHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sys := imager(16, &Detector{Label: "det", PixelScale: 0.03, FOVPixels: 8})
	if _, err := sys.Propagate(ctx, testWavelength, PropagateOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
