package raster

import (
	"fmt"
	"math"
	"strings"
)

// Interpolation selects the resampling kernel.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Bicubic
	Lanczos3
)

// ParseInterpolation converts a name to an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "nearest":
		return Nearest, nil
	case "bilinear", "":
		return Bilinear, nil
	case "bicubic", "cubic":
		return Bicubic, nil
	case "lanczos", "lanczos3":
		return Lanczos3, nil
	default:
		return 0, fmt.Errorf("unknown interpolation %q (valid: nearest, bilinear, bicubic, lanczos)", s)
	}
}

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	case Lanczos3:
		return "lanczos"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// radius returns the half-width of the kernel support in pixels.
func (i Interpolation) radius() int {
	switch i {
	case Bicubic:
		return 2
	case Lanczos3:
		return 3
	default:
		return 1
	}
}

// Margin returns the number of source pixels the kernel reads beyond the
// sampled pixel on each side.
func (i Interpolation) Margin() int {
	if i == Nearest {
		return 0
	}
	return i.radius()
}

// weight evaluates the kernel at distance d from the sample point.
func (i Interpolation) weight(d float64) float64 {
	switch i {
	case Bicubic:
		return bicubicLUT(d)
	case Lanczos3:
		return lanczos3LUT(d)
	default:
		d = math.Abs(d)
		if d >= 1 {
			return 0
		}
		return 1 - d
	}
}

// lanczos3 is the windowed sinc sin(πx)·sin(πx/3)·3/(πx)² on |x| < 3.
func lanczos3(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x <= -3 || x >= 3 {
		return 0
	}
	xPi := x * math.Pi
	return 3 * math.Sin(xPi) * math.Sin(xPi/3) / (xPi * xPi)
}

// bicubic is the Catmull-Rom kernel (a = -0.5).
func bicubic(x float64) float64 {
	x = math.Abs(x)
	if x >= 2 {
		return 0
	}
	x2 := x * x
	x3 := x2 * x
	if x <= 1 {
		return 1.5*x3 - 2.5*x2 + 1
	}
	return -0.5*x3 + 2.5*x2 - 4*x + 2
}

// lutSize is the number of table entries per unit of kernel distance.
const lutSize = 1024

var (
	lanczos3Table [3*lutSize + 1]float64
	bicubicTable  [2*lutSize + 1]float64
)

func init() {
	for i := range lanczos3Table {
		lanczos3Table[i] = lanczos3(float64(i) / lutSize)
	}
	for i := range bicubicTable {
		bicubicTable[i] = bicubic(float64(i) / lutSize)
	}
}

// lookup interpolates linearly in a symmetric kernel table.
func lookup(table []float64, x float64) float64 {
	x = math.Abs(x)
	pos := x * lutSize
	idx := int(pos)
	if idx >= len(table)-1 {
		return 0
	}
	frac := pos - float64(idx)
	return table[idx]*(1-frac) + table[idx+1]*frac
}

func lanczos3LUT(x float64) float64 { return lookup(lanczos3Table[:], x) }
func bicubicLUT(x float64) float64  { return lookup(bicubicTable[:], x) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
