package encode

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/pspoerri/rasterpyramid/internal/coverage"
)

// Mode selects how band values become colours.
type Mode uint8

const (
	// Grayscale stretches the band linearly between a minimum and maximum.
	Grayscale Mode = iota
	// Terrarium packs elevations into RGB.
	Terrarium
)

// ParseMode parses "gray" or "terrarium".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "gray", "grey", "grayscale":
		return Grayscale, nil
	case "terrarium":
		return Terrarium, nil
	default:
		return 0, fmt.Errorf("unknown render mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Terrarium {
		return "terrarium"
	}
	return "gray"
}

// RenderOptions controls Render.
type RenderOptions struct {
	Mode Mode
	// Min and Max fix the grayscale stretch. When both are zero the band's
	// own range is used.
	Min, Max float64
	// Width and Height resize the result when positive. A zero side keeps
	// the aspect ratio.
	Width, Height int
}

// Render maps one band of cov to an image. Nodata pixels are transparent.
func Render(cov *coverage.GridCoverage, band int, opts RenderOptions) (image.Image, error) {
	if cov == nil || cov.Image == nil {
		return nil, fmt.Errorf("render: empty coverage")
	}
	if band < 0 || band >= cov.Image.Bands {
		return nil, fmt.Errorf("render: band %d out of range [0, %d)", band, cov.Image.Bands)
	}
	var dim coverage.SampleDimension
	if band < len(cov.Dims) {
		dim = cov.Dims[band]
	}
	src := cov.Image
	r := image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy())
	out := image.NewNRGBA(r)

	lo, hi := opts.Min, opts.Max
	if opts.Mode == Grayscale && lo == 0 && hi == 0 {
		lo, hi, _ = src.Stats(band, dim.Fill())
	}
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			v := src.At(src.Rect.Min.X+x, src.Rect.Min.Y+y, band)
			if dim.IsNoData(v) {
				continue
			}
			if opts.Mode == Terrarium {
				c := ElevationToTerrarium(dim.Physical(v))
				out.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A})
				continue
			}
			g := stretch(v, lo, hi)
			out.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return resize(out, opts), nil
}

func stretch(v, lo, hi float64) uint8 {
	if !(hi > lo) {
		return 128
	}
	t := (v - lo) / (hi - lo)
	return uint8(math.Round(math.Max(0, math.Min(1, t)) * 255))
}

// resize scales img to the requested size. Terrarium images use nearest
// neighbour so encoded elevations are not blended.
func resize(img *image.NRGBA, opts RenderOptions) image.Image {
	w, h := opts.Width, opts.Height
	b := img.Bounds()
	if w <= 0 && h <= 0 || b.Empty() {
		return img
	}
	if w <= 0 {
		w = max(1, b.Dx()*h/b.Dy())
	}
	if h <= 0 {
		h = max(1, b.Dy()*w/b.Dx())
	}
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	var s draw.Scaler = draw.ApproxBiLinear
	if opts.Mode == Terrarium {
		s = draw.NearestNeighbor
	}
	s.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
