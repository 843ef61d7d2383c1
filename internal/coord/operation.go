package coord

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrTransform is returned when a point cannot be transformed between two CRSs.
var ErrTransform = errors.New("coordinate transform failed")

// boundSamples is the number of points sampled along each envelope edge.
const boundSamples = 16

// Operation transforms points from one CRS to another. Transforms between
// different EPSG codes pivot through WGS84 longitude/latitude.
type Operation struct {
	src, dst         CRS
	srcProj, dstProj Projection
}

// FindOperation returns the operation mapping src coordinates to dst.
func FindOperation(src, dst CRS) (Operation, error) {
	if src.IsZero() || dst.IsZero() {
		return Operation{}, fmt.Errorf("find operation %s -> %s: %w", src, dst, ErrUnsupportedCRS)
	}
	op := Operation{src: src, dst: dst}
	if src.EPSG == dst.EPSG {
		return op, nil
	}
	if op.srcProj = ForEPSG(src.EPSG); op.srcProj == nil {
		return Operation{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, src.EPSG)
	}
	if op.dstProj = ForEPSG(dst.EPSG); op.dstProj == nil {
		return Operation{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, dst.EPSG)
	}
	return op, nil
}

// Source returns the source CRS.
func (o Operation) Source() CRS { return o.src }

// Target returns the target CRS.
func (o Operation) Target() CRS { return o.dst }

// IsIdentity reports whether the operation leaves coordinates unchanged.
func (o Operation) IsIdentity() bool { return o.src == o.dst }

// Inverse returns the operation mapping dst coordinates back to src.
func (o Operation) Inverse() Operation {
	return Operation{src: o.dst, dst: o.src, srcProj: o.dstProj, dstProj: o.srcProj}
}

// Transform maps a single point. Non-finite results yield ErrTransform.
func (o Operation) Transform(x, y float64) (float64, float64, error) {
	if o.IsIdentity() {
		return x, y, nil
	}
	if o.src.Flipped() {
		x, y = y, x
	}
	if o.srcProj != nil {
		lon, lat := o.srcProj.ToWGS84(x, y)
		x, y = o.dstProj.FromWGS84(lon, lat)
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, fmt.Errorf("%w: %s -> %s", ErrTransform, o.src, o.dst)
	}
	if o.dst.Flipped() {
		x, y = y, x
	}
	return x, y, nil
}

// TransformBound maps an envelope by densifying its edges and taking the
// bounds of the transformed samples. Samples that fail to transform are
// skipped; the call fails only when none succeed.
func (o Operation) TransformBound(b orb.Bound) (orb.Bound, error) {
	if o.IsIdentity() {
		return b, nil
	}
	var out orb.Bound
	n := 0
	add := func(x, y float64) {
		tx, ty, err := o.Transform(x, y)
		if err != nil {
			return
		}
		p := orb.Point{tx, ty}
		if n == 0 {
			out = p.Bound()
		} else {
			out = out.Extend(p)
		}
		n++
	}
	dx := (b.Max[0] - b.Min[0]) / boundSamples
	dy := (b.Max[1] - b.Min[1]) / boundSamples
	for i := 0; i <= boundSamples; i++ {
		x := b.Min[0] + float64(i)*dx
		y := b.Min[1] + float64(i)*dy
		add(x, b.Min[1])
		add(x, b.Max[1])
		add(b.Min[0], y)
		add(b.Max[0], y)
	}
	if n == 0 {
		return orb.Bound{}, fmt.Errorf("transform bound %v: %w: %s -> %s", b, ErrTransform, o.src, o.dst)
	}
	return out, nil
}

// TransformBound is a convenience wrapper around FindOperation.
func TransformBound(b orb.Bound, src, dst CRS) (orb.Bound, error) {
	op, err := FindOperation(src, dst)
	if err != nil {
		return orb.Bound{}, err
	}
	return op.TransformBound(b)
}
