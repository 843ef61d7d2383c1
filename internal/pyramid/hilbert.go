package pyramid

import (
	"image"
	"math/bits"
	"slices"
)

// hilbertIndex converts (x, y) to its distance along a Hilbert curve over an
// n x n grid. n must be a power of two.
func hilbertIndex(x, y, n uint64) uint64 {
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if x&s != 0 {
			rx = 1
		}
		if y&s != 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		if ry == 0 {
			if rx == 1 {
				x = s*2 - 1 - x
				y = s*2 - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// tilesInOrder lists the tiles of r along a Hilbert curve so that tiles
// processed consecutively are spatial neighbours.
func tilesInOrder(r image.Rectangle) []image.Point {
	if r.Empty() {
		return nil
	}
	side := max(r.Dx(), r.Dy())
	n := uint64(1) << bits.Len(uint(side-1))
	type keyed struct {
		p image.Point
		d uint64
	}
	ks := make([]keyed, 0, r.Dx()*r.Dy())
	for row := r.Min.Y; row < r.Max.Y; row++ {
		for col := r.Min.X; col < r.Max.X; col++ {
			d := hilbertIndex(uint64(col-r.Min.X), uint64(row-r.Min.Y), n)
			ks = append(ks, keyed{image.Pt(col, row), d})
		}
	}
	slices.SortFunc(ks, func(a, b keyed) int { return cmpUint(a.d, b.d) })
	out := make([]image.Point, len(ks))
	for i, k := range ks {
		out[i] = k.p
	}
	return out
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
