package gopsf

import "math"

// samWindow returns the size of the image-plane window that covers the
// occulting spot. It has the parity of the full grid m so that window pixels
// fall on the full-grid lattice.
func samWindow(w *Wavefront, o *Occulter, oversample, m int) int {
	pix := w.LambdaOverD() / float64(oversample)
	r := int(math.Ceil(o.Radius / pix))
	win := 2*r + 3
	if win%2 != m%2 {
		win++
	}
	if win > m {
		win = m
	}
	return win
}

// semiAnalytic takes a pupil field to the Lyot plane through a circular
// occulter without forming the full image plane:
//
//	E_lyot = E - MFT⁻¹(spot · MFT(E))
//
// where both transforms run over a window around the spot. The window is
// sampled on the same lattice and normalisation as the full-grid MFT, so the
// result equals the brute-force calculation up to rounding.
func semiAnalytic(w *Wavefront, o *Occulter, oversample int) {
	n, nc := w.Dims()
	m := samWindow(w, o, oversample, n*oversample)
	nlamD := float64(m) / float64(oversample)

	img := MFT(w.Field, MFTParams{NLamDY: nlamD, NLamDX: nlamD, OutRows: m, OutCols: m, Centering: CenterFFT})

	pix := w.LambdaOverD() / float64(oversample)
	ys := coords(m, CenterFFT)
	raw := img.RawCMatrix()
	for i, y := range ys {
		row := raw.Data[i*raw.Stride : i*raw.Stride+m]
		for j, x := range ys {
			row[j] *= complex(o.Blocked(y*pix, x*pix), 0)
		}
	}

	corr := MFT(img, MFTParams{NLamDY: nlamD, NLamDX: nlamD, OutRows: n, OutCols: nc, Centering: CenterFFT, Inverse: true})
	field := w.data()
	cr := corr.RawCMatrix()
	for i := 0; i < n; i++ {
		for j := 0; j < nc; j++ {
			field[i*nc+j] -= cr.Data[i*cr.Stride+j]
		}
	}
	w.Plane = PupilPlane
	w.Location = o.Label
}
