// Package display renders wavefront planes to labelled PNG snapshots.
package display

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
)

// Options controls rendering.
type Options struct {
	// MinSize is the smallest output edge in pixels; planes are magnified by
	// an integer factor to reach it.
	MinSize int
	// Decades is the dynamic range of the logarithmic stretch.
	Decades float64
	// Log selects a logarithmic stretch; pupil planes are always linear.
	Log bool
}

func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = 256
	}
	if o.Decades <= 0 {
		o.Decades = 5
	}
	return o
}

const labelHeight = 16

// Render maps img to an RGBA image with label drawn in a header strip.
func Render(img mat.Matrix, label string, opts Options) *image.RGBA {
	opts = opts.withDefaults()
	rows, cols := img.Dims()
	zoom := 1
	if edge := max(rows, cols); edge > 0 && edge < opts.MinSize {
		zoom = (opts.MinSize + edge - 1) / edge
	}

	peak := mat.Max(img)
	out := image.NewRGBA(image.Rect(0, 0, cols*zoom, rows*zoom+labelHeight))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := heat(stretch(img.At(i, j), peak, opts))
			for dy := 0; dy < zoom; dy++ {
				for dx := 0; dx < zoom; dx++ {
					out.SetRGBA(j*zoom+dx, labelHeight+i*zoom+dy, c)
				}
			}
		}
	}
	drawText(out, basicfont.Face7x13, label, 2, labelHeight-3, color.RGBA{255, 255, 255, 255})
	return out
}

// stretch maps a value to [0, 1].
func stretch(v, peak float64, opts Options) float64 {
	if peak <= 0 || v <= 0 {
		return 0
	}
	if !opts.Log {
		return math.Min(v/peak, 1)
	}
	s := 1 + math.Log10(v/peak)/opts.Decades
	return math.Max(0, math.Min(s, 1))
}

// heat is a black-red-yellow-white colour map.
func heat(s float64) color.RGBA {
	ch := func(x float64) uint8 { return uint8(math.Round(255 * math.Max(0, math.Min(x, 1)))) }
	return color.RGBA{ch(3 * s), ch(3*s - 1), ch(3*s - 2), 255}
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}

// Recorder writes a snapshot of every plane it observes into a directory.
// Its Observe method is a gopsf.Observer.
type Recorder struct {
	dir    string
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	files []string
	err   error
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, opts Options, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{dir: dir, opts: opts, logger: logger}, nil
}

// Observe renders w. Write failures are kept for Err and stop further
// snapshots.
func (r *Recorder) Observe(step int, w *gopsf.Wavefront) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	opts := r.opts
	opts.Log = w.Plane != gopsf.PupilPlane
	label := fmt.Sprintf("%d %s (%s) %.3f um", step, w.Location, w.Plane, w.Wavelength*1e6)
	name := fmt.Sprintf("%02d_%s_%.4fum.png", step, slug(w.Location), w.Wavelength*1e6)
	path := filepath.Join(r.dir, name)
	if err := WritePNG(path, Render(w.Intensity(), label, opts)); err != nil {
		r.err = err
		r.logger.Error("❌ snapshot failed", "path", path, "error", err)
		return
	}
	r.files = append(r.files, path)
	r.logger.Debug("🖼️ snapshot written", "path", path)
}

// Files lists the snapshots written so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func slug(s string) string {
	if s == "" {
		return "plane"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
