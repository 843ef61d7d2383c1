package grid

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/coord"
)

var (
	// ErrIncompleteGeometry is returned when an operation needs a part of
	// the geometry (extent, transform or CRS) that is undefined.
	ErrIncompleteGeometry = errors.New("incomplete grid geometry")
	// ErrDisjointExtent is returned when a derived extent would be empty.
	ErrDisjointExtent = errors.New("disjoint grid extent")
)

// PixelAnchor selects which point of a pixel a grid-to-CRS transform maps.
type PixelAnchor uint8

const (
	// Corner maps integer grid coordinates to the pixel's upper-left corner.
	Corner PixelAnchor = iota
	// Center maps integer grid coordinates to the pixel center.
	Center
)

// Geometry describes a raster grid: a half-open integer extent, a
// corner-anchored grid-to-CRS transform and the CRS. Any part may be
// undefined; operations needing a missing part return ErrIncompleteGeometry.
type Geometry struct {
	extent       image.Rectangle
	gridToCRS    Affine
	crs          coord.CRS
	hasExtent    bool
	hasTransform bool
}

// New builds a complete geometry. An extent with negative span is rejected.
func New(extent image.Rectangle, gridToCRS Affine, anchor PixelAnchor, crs coord.CRS) (Geometry, error) {
	if extent.Dx() < 0 || extent.Dy() < 0 {
		return Geometry{}, fmt.Errorf("grid extent %v has negative span", extent)
	}
	if _, err := gridToCRS.Invert(); err != nil {
		return Geometry{}, fmt.Errorf("grid to crs %v: %w", gridToCRS, err)
	}
	if anchor == Center {
		gridToCRS = gridToCRS.Translate(-0.5, -0.5)
	}
	return Geometry{
		extent:       extent,
		gridToCRS:    gridToCRS,
		crs:          crs,
		hasExtent:    true,
		hasTransform: true,
	}, nil
}

// FromExtent returns a geometry with only an extent.
func FromExtent(extent image.Rectangle) Geometry {
	return Geometry{extent: extent, hasExtent: true}
}

// FromTransform returns a geometry without an extent.
func FromTransform(gridToCRS Affine, anchor PixelAnchor, crs coord.CRS) Geometry {
	if anchor == Center {
		gridToCRS = gridToCRS.Translate(-0.5, -0.5)
	}
	return Geometry{gridToCRS: gridToCRS, crs: crs, hasTransform: true}
}

// FromEnvelope builds a north-up geometry covering b at the given
// resolution. The extent starts at (0, 0) and is rounded up so that it
// encloses b.
func FromEnvelope(b orb.Bound, resX, resY float64, crs coord.CRS) (Geometry, error) {
	if resX <= 0 || resY <= 0 {
		return Geometry{}, fmt.Errorf("resolution (%g, %g) must be positive", resX, resY)
	}
	w := int(math.Ceil((b.Max[0]-b.Min[0])/resX - roundingTol))
	h := int(math.Ceil((b.Max[1]-b.Min[1])/resY - roundingTol))
	return New(image.Rect(0, 0, max(w, 0), max(h, 0)),
		Affine{A: resX, C: b.Min[0], E: -resY, F: b.Max[1]}, Corner, crs)
}

// HasExtent reports whether the extent is defined.
func (g Geometry) HasExtent() bool { return g.hasExtent }

// HasTransform reports whether the grid-to-CRS transform is defined.
func (g Geometry) HasTransform() bool { return g.hasTransform }

// IsComplete reports whether extent, transform and CRS are all defined.
func (g Geometry) IsComplete() bool {
	return g.hasExtent && g.hasTransform && !g.crs.IsZero()
}

// Extent returns the half-open pixel extent.
func (g Geometry) Extent() (image.Rectangle, error) {
	if !g.hasExtent {
		return image.Rectangle{}, fmt.Errorf("extent: %w", ErrIncompleteGeometry)
	}
	return g.extent, nil
}

// Bounds returns the extent, or the zero rectangle when undefined.
func (g Geometry) Bounds() image.Rectangle { return g.extent }

// Width returns the extent width.
func (g Geometry) Width() int { return g.extent.Dx() }

// Height returns the extent height.
func (g Geometry) Height() int { return g.extent.Dy() }

// CRS returns the coordinate reference system.
func (g Geometry) CRS() coord.CRS { return g.crs }

// GridToCRS returns the grid-to-CRS transform for the given anchor.
func (g Geometry) GridToCRS(anchor PixelAnchor) (Affine, error) {
	if !g.hasTransform {
		return Affine{}, fmt.Errorf("grid to crs: %w", ErrIncompleteGeometry)
	}
	if anchor == Center {
		return g.gridToCRS.Translate(0.5, 0.5), nil
	}
	return g.gridToCRS, nil
}

// Envelope returns the CRS bounds of the extent's outer corners.
func (g Geometry) Envelope() (orb.Bound, error) {
	if !g.hasExtent || !g.hasTransform {
		return orb.Bound{}, fmt.Errorf("envelope: %w", ErrIncompleteGeometry)
	}
	return g.RectEnvelope(g.extent), nil
}

// RectEnvelope returns the CRS bounds of an arbitrary pixel rectangle.
func (g Geometry) RectEnvelope(r image.Rectangle) orb.Bound {
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)
	x1, y1 := float64(r.Max.X), float64(r.Max.Y)
	b := orb.Point{0, 0}.Bound()
	for i, c := range [4][2]float64{{x0, y0}, {x1, y0}, {x0, y1}, {x1, y1}} {
		x, y := g.gridToCRS.Apply(c[0], c[1])
		if i == 0 {
			b = orb.Point{x, y}.Bound()
			continue
		}
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

// Resolution returns the CRS size of one pixel along each grid axis.
func (g Geometry) Resolution() ([2]float64, error) {
	if !g.hasExtent || !g.hasTransform {
		return [2]float64{}, fmt.Errorf("resolution: %w", ErrIncompleteGeometry)
	}
	m := g.gridToCRS
	return [2]float64{math.Hypot(m.A, m.D), math.Hypot(m.B, m.E)}, nil
}

// WithExtent returns a copy of g with a new extent and the same transform.
func (g Geometry) WithExtent(r image.Rectangle) Geometry {
	g.extent = r
	g.hasExtent = true
	return g
}

// Equal reports whether two geometries are identical.
func (g Geometry) Equal(o Geometry) bool { return g == o }

func (g Geometry) String() string {
	ext, tr := "undefined", "undefined"
	if g.hasExtent {
		ext = g.extent.String()
	}
	if g.hasTransform {
		tr = g.gridToCRS.String()
	}
	return fmt.Sprintf("Geometry{extent=%s gridToCRS=%s crs=%s}", ext, tr, g.crs)
}
