package grid

import (
	"fmt"

	"github.com/pspoerri/rasterpyramid/internal/coord"
)

// PixelFunc maps pixel coordinates of one grid to pixel coordinates of another.
// ok is false when the point cannot be transformed.
type PixelFunc func(x, y float64) (float64, float64, bool)

// GridToGrid returns the mapping from pixel coordinates of from to pixel
// coordinates of to. Both use corner-anchored continuous coordinates, so the
// center of pixel (i, j) is (i+0.5, j+0.5).
func GridToGrid(from, to Geometry) (PixelFunc, error) {
	if !from.hasTransform || !to.hasTransform {
		return nil, fmt.Errorf("grid to grid: %w", ErrIncompleteGeometry)
	}
	inv, err := to.gridToCRS.Invert()
	if err != nil {
		return nil, err
	}
	if from.crs == to.crs || from.crs.IsZero() || to.crs.IsZero() {
		m := from.gridToCRS.Then(inv)
		return func(x, y float64) (float64, float64, bool) {
			sx, sy := m.Apply(x, y)
			return sx, sy, true
		}, nil
	}
	op, err := coord.FindOperation(from.crs, to.crs)
	if err != nil {
		return nil, err
	}
	fwd := from.gridToCRS
	return func(x, y float64) (float64, float64, bool) {
		cx, cy := fwd.Apply(x, y)
		tx, ty, err := op.Transform(cx, cy)
		if err != nil {
			return 0, 0, false
		}
		sx, sy := inv.Apply(tx, ty)
		return sx, sy, true
	}, nil
}

// AffineBetween returns the pixel-to-pixel transform when both grids share a CRS.
func AffineBetween(from, to Geometry) (Affine, bool) {
	if !from.hasTransform || !to.hasTransform || from.crs != to.crs {
		return Affine{}, false
	}
	inv, err := to.gridToCRS.Invert()
	if err != nil {
		return Affine{}, false
	}
	return from.gridToCRS.Then(inv), true
}
