// Package raster holds float64 multi-band pixel buffers, the per-pixel fill
// mask and the resampling kernels used to move pixels between grids.
package raster

import (
	"image"
	"math"
	"sync"
)

// Image is a band-interleaved float64 raster. Pixel (x, y) lives at
// Pix[((y-Rect.Min.Y)*Rect.Dx()+(x-Rect.Min.X))*Bands:][:Bands].
type Image struct {
	Rect  image.Rectangle
	Bands int
	Pix   []float64
}

// NewImage allocates a zeroed image.
func NewImage(r image.Rectangle, bands int) *Image {
	return &Image{Rect: r, Bands: bands, Pix: make([]float64, r.Dx()*r.Dy()*bands)}
}

// NewFilled allocates an image with every pixel set to fill, one value per band.
func NewFilled(r image.Rectangle, fill []float64) *Image {
	m := NewImage(r, len(fill))
	m.Fill(fill)
	return m
}

// PixOffset returns the index of the first sample of pixel (x, y).
func (m *Image) PixOffset(x, y int) int {
	return ((y-m.Rect.Min.Y)*m.Rect.Dx() + (x - m.Rect.Min.X)) * m.Bands
}

// In reports whether (x, y) lies inside the image.
func (m *Image) In(x, y int) bool {
	return image.Pt(x, y).In(m.Rect)
}

// At returns band b of pixel (x, y).
func (m *Image) At(x, y, b int) float64 {
	return m.Pix[m.PixOffset(x, y)+b]
}

// Set stores v in band b of pixel (x, y).
func (m *Image) Set(x, y, b int, v float64) {
	m.Pix[m.PixOffset(x, y)+b] = v
}

// Pixel returns the samples of (x, y). The slice aliases the image.
func (m *Image) Pixel(x, y int) []float64 {
	i := m.PixOffset(x, y)
	return m.Pix[i : i+m.Bands : i+m.Bands]
}

// SetPixel copies px into (x, y).
func (m *Image) SetPixel(x, y int, px []float64) {
	copy(m.Pix[m.PixOffset(x, y):][:m.Bands], px)
}

// Fill sets every pixel to vals.
func (m *Image) Fill(vals []float64) {
	if len(vals) == 0 || len(m.Pix) == 0 {
		return
	}
	copy(m.Pix, vals[:m.Bands])
	// Doubling copy.
	for n := m.Bands; n < len(m.Pix); n *= 2 {
		copy(m.Pix[n:], m.Pix[:n])
	}
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	c := &Image{Rect: m.Rect, Bands: m.Bands, Pix: make([]float64, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// SubImage copies the intersection of r and m into a new image.
func (m *Image) SubImage(r image.Rectangle) *Image {
	r = r.Intersect(m.Rect)
	out := NewImage(r, m.Bands)
	w := r.Dx() * m.Bands
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(out.Pix[out.PixOffset(r.Min.X, y):][:w], m.Pix[m.PixOffset(r.Min.X, y):][:w])
	}
	return out
}

// Draw copies the pixels of src that overlap m into m.
func (m *Image) Draw(src *Image) {
	r := m.Rect.Intersect(src.Rect)
	if r.Empty() || src.Bands != m.Bands {
		return
	}
	w := r.Dx() * m.Bands
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(m.Pix[m.PixOffset(r.Min.X, y):][:w], src.Pix[src.PixOffset(r.Min.X, y):][:w])
	}
}

// SelectBands returns a copy holding only the given bands, in order.
func (m *Image) SelectBands(bands []int) *Image {
	out := NewImage(m.Rect, len(bands))
	for p, q := 0, 0; p < len(m.Pix); p, q = p+m.Bands, q+len(bands) {
		for i, b := range bands {
			out.Pix[q+i] = m.Pix[p+b]
		}
	}
	return out
}

// Stats returns the minimum and maximum of band b ignoring nodata. ok is
// false when every sample is nodata.
func (m *Image) Stats(b int, nodata float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := b; i < len(m.Pix); i += m.Bands {
		v := m.Pix[i]
		if IsNoData(v, nodata) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// IsNoData reports whether v is NaN or equals a non-NaN nodata value.
func IsNoData(v, nodata float64) bool {
	return math.IsNaN(v) || (!math.IsNaN(nodata) && v == nodata)
}

// imagePoolKey identifies a pool by buffer shape.
type imagePoolKey struct {
	w, h, bands int
}

// imagePools maps shape → *sync.Pool of *Image. Only a handful of tile
// shapes exist per process so the map stays small.
var imagePools sync.Map

// GetImage returns a zeroed image from the pool, or allocates a new one.
func GetImage(r image.Rectangle, bands int) *Image {
	key := imagePoolKey{r.Dx(), r.Dy(), bands}
	if p, ok := imagePools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			m := v.(*Image)
			clear(m.Pix)
			m.Rect = r
			return m
		}
	}
	return NewImage(r, bands)
}

// PutImage returns an image to the pool. Nil images are ignored.
func PutImage(m *Image) {
	if m == nil {
		return
	}
	key := imagePoolKey{m.Rect.Dx(), m.Rect.Dy(), m.Bands}
	p, _ := imagePools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(m)
}
