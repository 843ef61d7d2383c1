package raster

import (
	"image"
	"math"
	"sync"
)

// Border selects how samples falling outside the source are handled.
type Border int

const (
	// BorderFill yields the fill value (an invalid pixel) outside the source
	// and wherever the source pixel containing the sample is nodata.
	BorderFill Border = iota
	// BorderClamp clamps coordinates to the source edge.
	BorderClamp
)

// PixelTransform maps a target pixel coordinate to a source pixel coordinate.
// Both are continuous, corner-anchored coordinates. ok is false when the point
// has no source location.
type PixelTransform func(x, y float64) (sx, sy float64, ok bool)

// maxTaps is the widest kernel support (Lanczos-3).
const maxTaps = 6

// Resampler samples Source through Transform. A Resampler is not safe for
// concurrent use; Close releases its scratch buffers.
type Resampler struct {
	Source        *Image
	Transform     PixelTransform
	Interpolation Interpolation
	Border        Border
	// NoData holds one value per source band. NaN is always treated as nodata.
	NoData []float64
	// Fill holds one value per output band for invalid pixels. Defaults to
	// the nodata of the sampled band, or NaN.
	Fill []float64
	// Bands lists the source bands to sample. Nil samples all bands.
	Bands []int

	scratch *[]float64
}

var scratchPool = sync.Pool{New: func() any { s := make([]float64, 0, 64); return &s }}

func (r *Resampler) bands() []int {
	if r.Bands != nil {
		return r.Bands
	}
	all := make([]int, r.Source.Bands)
	for i := range all {
		all[i] = i
	}
	r.Bands = all
	return all
}

func (r *Resampler) nodata(b int) float64 {
	if b < len(r.NoData) {
		return r.NoData[b]
	}
	return math.NaN()
}

func (r *Resampler) fill() []float64 {
	bands := r.bands()
	if len(r.Fill) == len(bands) {
		return r.Fill
	}
	f := make([]float64, len(bands))
	for i, b := range bands {
		f[i] = r.nodata(b)
	}
	r.Fill = f
	return f
}

// buffers returns per-call accumulators of n floats each: px, sum and wsum.
func (r *Resampler) buffers(n int) (px, sum, wsum []float64) {
	if r.scratch == nil {
		r.scratch = scratchPool.Get().(*[]float64)
	}
	s := *r.scratch
	if cap(s) < 3*n {
		s = make([]float64, 3*n)
	}
	s = s[:3*n]
	*r.scratch = s
	return s[:n:n], s[n : 2*n : 2*n], s[2*n:]
}

// Close returns scratch buffers to the pool.
func (r *Resampler) Close() {
	if r.scratch != nil {
		scratchPool.Put(r.scratch)
		r.scratch = nil
	}
}

// Each visits every pixel of rect in row-major order with the resampled
// value. px is reused between calls. valid is true when every requested band
// produced a value; invalid pixels carry the fill values.
func (r *Resampler) Each(rect image.Rectangle, fn func(x, y int, px []float64, valid bool)) {
	bands := r.bands()
	fill := r.fill()
	px, sum, wsum := r.buffers(len(bands))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			valid := false
			if sx, sy, ok := r.Transform(float64(x)+0.5, float64(y)+0.5); ok {
				valid = r.sample(sx, sy, bands, px, sum, wsum)
			}
			if !valid {
				copy(px, fill)
			}
			fn(x, y, px, valid)
		}
	}
}

// Resample materialises Each over rect into a new image.
func (r *Resampler) Resample(rect image.Rectangle) *Image {
	out := NewImage(rect, len(r.bands()))
	r.Each(rect, func(x, y int, px []float64, _ bool) {
		out.SetPixel(x, y, px)
	})
	return out
}

// sample evaluates the kernel at source coordinate (sx, sy) into px.
func (r *Resampler) sample(sx, sy float64, bands []int, px, sum, wsum []float64) bool {
	src := r.Source
	b := src.Rect
	if b.Empty() || math.IsNaN(sx) || math.IsNaN(sy) {
		return false
	}
	if sx < float64(b.Min.X) || sx >= float64(b.Max.X) || sy < float64(b.Min.Y) || sy >= float64(b.Max.Y) {
		if r.Border == BorderFill {
			return false
		}
		sx = math.Min(math.Max(sx, float64(b.Min.X)), float64(b.Max.X)-0.5)
		sy = math.Min(math.Max(sy, float64(b.Min.Y)), float64(b.Max.Y)-0.5)
	}
	// Kernel coordinates are pixel-center based.
	fx, fy := sx-0.5, sy-0.5

	if r.Interpolation == Nearest {
		ix := clamp(int(math.Floor(fx+0.5)), b.Min.X, b.Max.X-1)
		iy := clamp(int(math.Floor(fy+0.5)), b.Min.Y, b.Max.Y-1)
		p := src.Pixel(ix, iy)
		for i, band := range bands {
			v := p[band]
			if IsNoData(v, r.nodata(band)) {
				return false
			}
			px[i] = v
		}
		return true
	}

	// Under BorderFill the pixel containing the sample must hold data.
	if r.Border == BorderFill {
		p := src.Pixel(int(math.Floor(sx)), int(math.Floor(sy)))
		for _, band := range bands {
			if IsNoData(p[band], r.nodata(band)) {
				return false
			}
		}
	}

	rad := r.Interpolation.radius()
	x0 := int(math.Floor(fx)) - rad + 1
	y0 := int(math.Floor(fy)) - rad + 1
	n := 2 * rad
	var wx, wy [maxTaps]float64
	var lx, ly [maxTaps]int
	for k := 0; k < n; k++ {
		wx[k] = r.Interpolation.weight(fx - float64(x0+k))
		wy[k] = r.Interpolation.weight(fy - float64(y0+k))
		lx[k] = clamp(x0+k, b.Min.X, b.Max.X-1)
		ly[k] = clamp(y0+k, b.Min.Y, b.Max.Y-1)
	}
	clear(sum)
	clear(wsum)
	for j := 0; j < n; j++ {
		if wy[j] == 0 {
			continue
		}
		for k := 0; k < n; k++ {
			w := wx[k] * wy[j]
			if w == 0 {
				continue
			}
			p := src.Pixel(lx[k], ly[j])
			for i, band := range bands {
				v := p[band]
				if IsNoData(v, r.nodata(band)) {
					continue
				}
				sum[i] += w * v
				wsum[i] += w
			}
		}
	}
	for i := range bands {
		if math.Abs(wsum[i]) < 1e-9 {
			return false
		}
		px[i] = sum[i] / wsum[i]
	}
	return true
}
