package gopsf

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"
)

// mftKernel returns the m×n matrix K[k][j] = exp(sign·2πi·(k-ck)(j-cj)·nlamD/(n·m)).
// The same kernel serves both directions: n is the input length, m the output.
func mftKernel(m, n int, nlamD float64, c Centering, sign float64) cblas128.General {
	ck, cj := c.origin(m), c.origin(n)
	scale := sign * 2 * math.Pi * nlamD / (float64(n) * float64(m))
	data := make([]complex128, m*n)
	for k := 0; k < m; k++ {
		u := float64(k) - ck
		row := data[k*n : (k+1)*n]
		for j := range row {
			row[j] = cmplx.Exp(complex(0, scale*u*(float64(j)-cj)))
		}
	}
	return cblas128.General{Rows: m, Cols: n, Stride: n, Data: data}
}

// MFTParams describes one matrix Fourier transform. NLamD is the extent of the
// image-plane side in units of λ/D of the pupil array.
type MFTParams struct {
	NLamDY, NLamDX float64
	OutRows        int
	OutCols        int
	Centering      Centering
	Inverse        bool
}

// MFTNorm is the scaling applied by MFT: sqrt(nlamDy·nlamDx/(Ny·Nx·My·Mx)).
// For a full-grid transform it reduces to 1/sqrt(My·Mx) and conserves energy.
func MFTNorm(inRows, inCols int, p MFTParams) float64 {
	return math.Sqrt(p.NLamDY * p.NLamDX /
		(float64(inRows) * float64(inCols) * float64(p.OutRows) * float64(p.OutCols)))
}

// MFT evaluates norm · Ky · E · Kxᵀ, a discrete Fourier transform between
// arbitrarily sampled pupil and image grids.
func MFT(field *mat.CDense, p MFTParams) *mat.CDense {
	ny, nx := field.Dims()
	sign := -1.0
	if p.Inverse {
		sign = 1
	}
	ky := mftKernel(p.OutRows, ny, p.NLamDY, p.Centering, sign)
	kx := mftKernel(p.OutCols, nx, p.NLamDX, p.Centering, sign)

	in := field.RawCMatrix()
	tmp := cblas128.General{Rows: ny, Cols: p.OutCols, Stride: p.OutCols, Data: make([]complex128, ny*p.OutCols)}
	cblas128.Gemm(blas.NoTrans, blas.Trans, 1, in, kx, 0, tmp)

	out := mat.NewCDense(p.OutRows, p.OutCols, nil)
	norm := complex(MFTNorm(ny, nx, p), 0)
	cblas128.Gemm(blas.NoTrans, blas.NoTrans, norm, ky, tmp, 0, out.RawCMatrix())
	return out
}

// mftToImage moves a pupil wavefront onto an m×m image lattice sampled
// oversample times finer than λ/D of the pupil array.
func mftToImage(w *Wavefront, m int, oversample int, c Centering) {
	nlamD := float64(m) / float64(oversample)
	r, cols := w.Dims()
	w.lattice = lattice{kind: MatrixDFT, pupilRows: r, pupilCols: cols, nlamD: nlamD}
	w.Field = MFT(w.Field, MFTParams{
		NLamDY: nlamD, NLamDX: nlamD,
		OutRows: m, OutCols: m,
		Centering: c,
	})
	w.Plane = ImagePlane
	w.PixelScale = w.LambdaOverD() / float64(oversample)
	w.Oversample = oversample
}

// mftToPupil returns an image-plane wavefront to the pupil grid it came from.
func mftToPupil(w *Wavefront) {
	l := w.lattice
	w.Field = MFT(w.Field, MFTParams{
		NLamDY: l.nlamD, NLamDX: l.nlamD,
		OutRows: l.pupilRows, OutCols: l.pupilCols,
		Centering: CenterFFT,
		Inverse:   true,
	})
	w.Plane = PupilPlane
	w.PixelScale = w.GridDiameter / float64(l.pupilCols)
}

// mftToDetector samples the field onto the detector grid.
func mftToDetector(w *Wavefront, d *Detector) {
	m := d.samples()
	pix := d.PixelScale / float64(d.oversample())
	nlamD := float64(m) * pix / w.LambdaOverD()
	w.Field = MFT(w.Field, MFTParams{
		NLamDY: nlamD, NLamDX: nlamD,
		OutRows: m, OutCols: m,
		Centering: CenterSymmetric,
	})
	w.Plane = DetectorPlane
	w.PixelScale = pix
	w.Oversample = d.oversample()
}
