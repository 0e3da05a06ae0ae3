package gopsf

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

func randomField(n int, seed int64) *mat.CDense {
	rnd := rand.New(rand.NewSource(seed))
	data := make([]complex128, n*n)
	for i := range data {
		data[i] = complex(rnd.NormFloat64(), rnd.NormFloat64())
	}
	return mat.NewCDense(n, n, data)
}

func energy(m *mat.CDense) float64 {
	r, c := m.Dims()
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := cmplx.Abs(m.At(i, j))
			sum += v * v
		}
	}
	return sum
}

func TestMFTFullGridConservesEnergy(t *testing.T) {
	for _, q := range []int{1, 2, 3} {
		in := randomField(12, int64(q))
		m := 12 * q
		out := MFT(in, MFTParams{NLamDY: 12, NLamDX: 12, OutRows: m, OutCols: m, Centering: CenterFFT})
		if !scalar.EqualWithinRel(energy(in), energy(out), 1e-10) {
			t.Errorf("q=%d: energy %.12g in, %.12g out", q, energy(in), energy(out))
		}
	}
}

func TestMFTRoundTrip(t *testing.T) {
	w := &Wavefront{Wavelength: testWavelength, Field: randomField(16, 7), GridDiameter: testDiameter, PixelScale: testDiameter / 16}
	orig := compact(w.Field)

	mftToImage(w, 32, 2, CenterFFT)
	if w.Plane != ImagePlane {
		t.Fatalf("plane after forward transform = %s", w.Plane)
	}
	if want := lambdaOverD(testWavelength) / 2; !scalar.EqualWithinRel(w.PixelScale, want, 1e-12) {
		t.Errorf("image pixel scale = %g, want %g", w.PixelScale, want)
	}
	mftToPupil(w)

	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			if d := cmplx.Abs(w.Field.At(i, j) - orig.At(i, j)); d > 1e-10 {
				t.Fatalf("round trip differs at (%d,%d) by %g", i, j, d)
			}
		}
	}
	if !scalar.EqualWithinRel(w.PixelScale, testDiameter/16, 1e-12) {
		t.Errorf("pupil pixel scale = %g", w.PixelScale)
	}
}

func TestFFTMatchesFullGridMFT(t *testing.T) {
	for _, threads := range []int{1, 3} {
		a := &Wavefront{Wavelength: testWavelength, Field: randomField(16, 3), GridDiameter: testDiameter}
		b := a.Copy()
		mftToImage(a, 32, 2, CenterFFT)
		fftToImage(b, 2, threads)
		for i := 0; i < 32; i++ {
			for j := 0; j < 32; j++ {
				if d := cmplx.Abs(a.Field.At(i, j) - b.Field.At(i, j)); d > 1e-9 {
					t.Fatalf("threads=%d: forward differs at (%d,%d) by %g", threads, i, j, d)
				}
			}
		}
		mftToPupil(a)
		fftToPupil(b, threads)
		for i := 0; i < 16; i++ {
			for j := 0; j < 16; j++ {
				if d := cmplx.Abs(a.Field.At(i, j) - b.Field.At(i, j)); d > 1e-9 {
					t.Fatalf("threads=%d: inverse differs at (%d,%d) by %g", threads, i, j, d)
				}
			}
		}
	}
}

func TestFFTFriendly(t *testing.T) {
	tests := []struct {
		n    int
		want bool
	}{
		{1, true}, {64, true}, {360, true}, {1024, true},
		{0, false}, {14, false}, {77, false}, {-8, false},
	}
	for _, tt := range tests {
		if got := FFTFriendly(tt.n); got != tt.want {
			t.Errorf("FFTFriendly(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestMFTNorm(t *testing.T) {
	p := MFTParams{NLamDY: 8, NLamDX: 8, OutRows: 32, OutCols: 32}
	if got := MFTNorm(8, 8, p); math.Abs(got-1.0/32) > 1e-15 {
		t.Errorf("full-grid norm = %g, want 1/32", got)
	}
}
