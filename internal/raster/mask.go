package raster

import (
	"image"
	"math/bits"
)

// Mask records which pixels of a canvas have received a value. Bits are only
// ever set.
type Mask struct {
	rect   image.Rectangle
	stride int // words per row
	words  []uint64
	rows   []int32 // set bits per row
	count  int
}

// NewMask returns an empty mask over r.
func NewMask(r image.Rectangle) *Mask {
	stride := (r.Dx() + 63) / 64
	return &Mask{
		rect:   r,
		stride: stride,
		words:  make([]uint64, stride*r.Dy()),
		rows:   make([]int32, r.Dy()),
	}
}

// Rect returns the masked rectangle.
func (m *Mask) Rect() image.Rectangle { return m.rect }

func (m *Mask) index(x, y int) (int, uint64) {
	dx, dy := x-m.rect.Min.X, y-m.rect.Min.Y
	return dy*m.stride + dx/64, 1 << uint(dx%64)
}

// Set marks (x, y) as filled. It reports whether the bit was previously unset.
// Points outside the mask are ignored.
func (m *Mask) Set(x, y int) bool {
	if !image.Pt(x, y).In(m.rect) {
		return false
	}
	i, bit := m.index(x, y)
	if m.words[i]&bit != 0 {
		return false
	}
	m.words[i] |= bit
	m.rows[y-m.rect.Min.Y]++
	m.count++
	return true
}

// IsSet reports whether (x, y) is filled.
func (m *Mask) IsSet(x, y int) bool {
	if !image.Pt(x, y).In(m.rect) {
		return false
	}
	i, bit := m.index(x, y)
	return m.words[i]&bit != 0
}

// Count returns the number of filled pixels.
func (m *Mask) Count() int { return m.count }

// Full reports whether every pixel is filled.
func (m *Mask) Full() bool { return m.count == m.rect.Dx()*m.rect.Dy() }

// UnfilledBounds returns the bounding box of the unfilled pixels, or the
// empty rectangle when the mask is full.
func (m *Mask) UnfilledBounds() image.Rectangle {
	if m.Full() {
		return image.Rectangle{}
	}
	w := m.rect.Dx()
	minX, maxX := w, -1
	minY, maxY := -1, -1
	for dy, n := range m.rows {
		if int(n) == w {
			continue
		}
		if minY < 0 {
			minY = dy
		}
		maxY = dy
		row := m.words[dy*m.stride : (dy+1)*m.stride]
		for wi, word := range row {
			inv := ^word
			if wi == len(row)-1 && w%64 != 0 {
				inv &= (1 << uint(w%64)) - 1
			}
			if inv == 0 {
				continue
			}
			lo := wi*64 + bits.TrailingZeros64(inv)
			hi := wi*64 + 63 - bits.LeadingZeros64(inv)
			minX, maxX = min(minX, lo), max(maxX, hi)
		}
	}
	o := m.rect.Min
	return image.Rect(o.X+minX, o.Y+minY, o.X+maxX+1, o.Y+maxY+1)
}
