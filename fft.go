package gopsf

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// FFTFriendly reports whether n factors entirely into 2, 3 and 5.
func FFTFriendly(n int) bool {
	if n < 1 {
		return false
	}
	for _, p := range []int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// fft1 transforms every line of a row-major rows×cols array, either the rows
// (stride 1) or the columns. Lines are split across threads goroutines, each
// with its own plan since plans carry scratch space.
func fft1(data []complex128, rows, cols int, alongRows, inverse bool, threads int) {
	lines, length := rows, cols
	if !alongRows {
		lines, length = cols, rows
	}
	if threads < 1 {
		threads = 1
	}
	if threads > lines {
		threads = lines
	}

	var wg sync.WaitGroup
	chunk := (lines + threads - 1) / threads
	for t := 0; t < threads; t++ {
		lo, hi := t*chunk, (t+1)*chunk
		if hi > lines {
			hi = lines
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			plan := fourier.NewCmplxFFT(length)
			buf := make([]complex128, length)
			for line := lo; line < hi; line++ {
				for i := range buf {
					buf[i] = data[index(line, i, cols, alongRows)]
				}
				if inverse {
					plan.Sequence(buf, buf)
				} else {
					plan.Coefficients(buf, buf)
				}
				for i, v := range buf {
					data[index(line, i, cols, alongRows)] = v
				}
			}
		}(lo, hi)
	}
	wg.Wait()
}

func index(line, i, cols int, alongRows bool) int {
	if alongRows {
		return line*cols + i
	}
	return i*cols + line
}

// fft2 is an unnormalised 2-D transform of a row-major rows×cols array.
func fft2(data []complex128, rows, cols int, inverse bool, threads int) {
	fft1(data, rows, cols, true, inverse, threads)
	fft1(data, rows, cols, false, inverse, threads)
}

func wrap(i, m int) int {
	i %= m
	if i < 0 {
		i += m
	}
	return i
}

// centredFFT computes out[k] = norm·Σ a[n]·exp(∓2πi(k-c)(n-c)/M) with c = M/2
// on both axes of an M×M array, the FFT counterpart of an MFT with CenterFFT.
func centredFFT(a []complex128, m int, inverse bool, threads int) []complex128 {
	c := m / 2
	b := make([]complex128, m*m)
	for i := 0; i < m; i++ {
		bi := wrap(i-c, m)
		for j := 0; j < m; j++ {
			b[bi*m+wrap(j-c, m)] = a[i*m+j]
		}
	}
	fft2(b, m, m, inverse, threads)
	norm := complex(1/float64(m), 0)
	out := make([]complex128, m*m)
	for k := 0; k < m; k++ {
		bk := wrap(k-c, m)
		for l := 0; l < m; l++ {
			out[k*m+l] = b[bk*m+wrap(l-c, m)] * norm
		}
	}
	return out
}

// fftToImage zero-pads the pupil to N·oversample and transforms it.
func fftToImage(w *Wavefront, oversample, threads int) {
	n, _ := w.Dims()
	m := n * oversample
	off := m/2 - n/2
	src := w.data()
	padded := make([]complex128, m*m)
	for i := 0; i < n; i++ {
		copy(padded[(i+off)*m+off:(i+off)*m+off+n], src[i*n:(i+1)*n])
	}
	w.lattice = lattice{kind: FFT, pupilRows: n, pupilCols: n, padded: m, nlamD: float64(n)}
	w.Field = mat.NewCDense(m, m, centredFFT(padded, m, false, threads))
	w.Plane = ImagePlane
	w.PixelScale = w.LambdaOverD() / float64(oversample)
	w.Oversample = oversample
}

// fftToPupil inverts fftToImage and crops back to the original pupil grid.
func fftToPupil(w *Wavefront, threads int) {
	l := w.lattice
	m, n := l.padded, l.pupilRows
	off := m/2 - n/2
	full := centredFFT(w.data(), m, true, threads)
	out := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		copy(out[i*n:(i+1)*n], full[(i+off)*m+off:(i+off)*m+off+n])
	}
	w.Field = mat.NewCDense(n, n, out)
	w.Plane = PupilPlane
	w.PixelScale = w.GridDiameter / float64(n)
}

// nativeOversample returns the FFT padding factor that reproduces the detector
// sampling, and whether that factor is an integer.
func nativeOversample(w *Wavefront, d *Detector) (int, bool) {
	q := w.LambdaOverD() / (d.PixelScale / float64(d.oversample()))
	r := math.Round(q)
	return int(r), r >= 1 && math.Abs(q-r) <= 1e-6*q
}

// fftToDetector transforms at the native sampling and crops the detector field.
// The crop keeps the FFT origin on pixel m/2.
func fftToDetector(w *Wavefront, d *Detector, q, threads int) {
	fftToImage(w, q, threads)
	big, _ := w.Dims()
	m := d.samples()
	off := big/2 - m/2
	src := w.data()
	out := make([]complex128, m*m)
	for i := 0; i < m; i++ {
		copy(out[i*m:(i+1)*m], src[(i+off)*big+off:(i+off)*big+off+m])
	}
	w.Field = mat.NewCDense(m, m, out)
	w.Plane = DetectorPlane
	w.PixelScale = d.PixelScale / float64(d.oversample())
	w.Oversample = d.oversample()
}
