package grid

import (
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/coord"
)

// roundingTol absorbs floating point noise when snapping envelopes to pixels.
const roundingTol = 1e-9

// Rounding selects how fractional pixel bounds become integer extents.
type Rounding uint8

const (
	// Enclosing rounds outward so the extent covers the whole envelope.
	Enclosing Rounding = iota
	// Nearest rounds each bound to the closest integer.
	Nearest
)

// Builder derives a new Geometry from a base one. Steps apply in the order
// clip, subgrid, subsample, margin regardless of call order.
type Builder struct {
	base     Geometry
	rounding Rounding
	clip     *image.Rectangle
	env      *orb.Bound
	res      []float64
	mx, my   int
}

// Derive starts a builder from g.
func (g Geometry) Derive() *Builder {
	return &Builder{base: g}
}

// Rounding sets the rounding policy for Subgrid.
func (b *Builder) Rounding(r Rounding) *Builder {
	b.rounding = r
	return b
}

// Clip restricts the extent to r.
func (b *Builder) Clip(r image.Rectangle) *Builder {
	b.clip = &r
	return b
}

// Subgrid restricts the extent to the pixels covering env (in the grid CRS)
// and, when a resolution is given, subsamples to it. A single resolution
// applies to both axes.
func (b *Builder) Subgrid(env orb.Bound, resolution ...float64) *Builder {
	b.env = &env
	b.res = resolution
	return b
}

// Margin grows the extent by nx, ny pixels on each side.
func (b *Builder) Margin(nx, ny int) *Builder {
	b.mx, b.my = nx, ny
	return b
}

// Build returns the derived geometry.
func (b *Builder) Build() (Geometry, error) {
	g := b.base
	if !g.hasExtent {
		return Geometry{}, fmt.Errorf("derive: %w", ErrIncompleteGeometry)
	}
	ext := g.extent
	if b.clip != nil {
		ext = ext.Intersect(*b.clip)
		if ext.Empty() {
			return Geometry{}, fmt.Errorf("clip %v to %v: %w", g.extent, *b.clip, ErrDisjointExtent)
		}
	}
	if b.env != nil {
		if !g.hasTransform {
			return Geometry{}, fmt.Errorf("subgrid: %w", ErrIncompleteGeometry)
		}
		r, err := pixelBox(g.gridToCRS, *b.env, b.rounding)
		if err != nil {
			return Geometry{}, err
		}
		sub := ext.Intersect(r)
		if sub.Empty() {
			return Geometry{}, fmt.Errorf("subgrid %v of %v: %w", *b.env, ext, ErrDisjointExtent)
		}
		ext = sub
		if len(b.res) > 0 {
			g, ext, err = subsample(g, ext, b.res)
			if err != nil {
				return Geometry{}, err
			}
		}
	}
	if b.mx != 0 || b.my != 0 {
		ext = image.Rect(ext.Min.X-b.mx, ext.Min.Y-b.my, ext.Max.X+b.mx, ext.Max.Y+b.my)
		if ext.Dx() < 0 || ext.Dy() < 0 {
			return Geometry{}, fmt.Errorf("margin (%d, %d): %w", b.mx, b.my, ErrDisjointExtent)
		}
	}
	g.extent = ext
	return g, nil
}

// pixelBox converts a CRS envelope into the pixel rectangle covering it.
func pixelBox(gridToCRS Affine, env orb.Bound, r Rounding) (image.Rectangle, error) {
	inv, err := gridToCRS.Invert()
	if err != nil {
		return image.Rectangle{}, err
	}
	var minX, minY, maxX, maxY float64
	for i, c := range [4][2]float64{
		{env.Min[0], env.Min[1]}, {env.Max[0], env.Min[1]},
		{env.Min[0], env.Max[1]}, {env.Max[0], env.Max[1]},
	} {
		x, y := inv.Apply(c[0], c[1])
		if i == 0 {
			minX, maxX, minY, maxY = x, x, y, y
			continue
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return roundBox(minX, minY, maxX, maxY, r), nil
}

func roundBox(minX, minY, maxX, maxY float64, r Rounding) image.Rectangle {
	if r == Nearest {
		return image.Rect(int(math.Round(minX)), int(math.Round(minY)),
			int(math.Round(maxX)), int(math.Round(maxY)))
	}
	return image.Rectangle{
		Min: image.Pt(int(math.Floor(minX+roundingTol)), int(math.Floor(minY+roundingTol))),
		Max: image.Pt(int(math.Ceil(maxX-roundingTol)), int(math.Ceil(maxY-roundingTol))),
	}
}

// subsample rescales g so that a pixel spans res CRS units. The returned
// extent covers the same area as ext in the new pixel space.
func subsample(g Geometry, ext image.Rectangle, res []float64) (Geometry, image.Rectangle, error) {
	cur, err := g.Resolution()
	if err != nil {
		return g, ext, err
	}
	rx := res[0]
	ry := rx
	if len(res) > 1 {
		ry = res[1]
	}
	if rx <= 0 || ry <= 0 {
		return g, ext, fmt.Errorf("subsample resolution (%g, %g) must be positive", rx, ry)
	}
	fx, fy := rx/cur[0], ry/cur[1]
	g.gridToCRS = Scale(fx, fy).Then(g.gridToCRS)
	ext = roundBox(float64(ext.Min.X)/fx, float64(ext.Min.Y)/fy,
		float64(ext.Max.X)/fx, float64(ext.Max.Y)/fy, Enclosing)
	return g, ext, nil
}

// Reproject returns a north-up geometry in crs covering the same envelope
// with the same number of pixels.
func (g Geometry) Reproject(crs coord.CRS) (Geometry, error) {
	if g.crs == crs {
		return g, nil
	}
	env, err := g.Envelope()
	if err != nil {
		return Geometry{}, err
	}
	if g.crs.IsZero() {
		return Geometry{}, fmt.Errorf("reproject: crs %w", ErrIncompleteGeometry)
	}
	tb, err := coord.TransformBound(env, g.crs, crs)
	if err != nil {
		return Geometry{}, fmt.Errorf("reproject %s -> %s: %w", g.crs, crs, err)
	}
	w, h := max(g.extent.Dx(), 1), max(g.extent.Dy(), 1)
	return FromEnvelope(tb, (tb.Max[0]-tb.Min[0])/float64(w), (tb.Max[1]-tb.Min[1])/float64(h), crs)
}
