package raster

import (
	"image"
	"math"
	"testing"
)

func TestImage_FillAndPixel(t *testing.T) {
	m := NewFilled(image.Rect(2, 3, 7, 6), []float64{1, 2, 3})
	if m.Bands != 3 || len(m.Pix) != 5*3*3 {
		t.Fatalf("shape = %d bands, %d samples", m.Bands, len(m.Pix))
	}
	for y := 3; y < 6; y++ {
		for x := 2; x < 7; x++ {
			px := m.Pixel(x, y)
			if px[0] != 1 || px[1] != 2 || px[2] != 3 {
				t.Fatalf("Pixel(%d, %d) = %v, want [1 2 3]", x, y, px)
			}
		}
	}
	m.SetPixel(4, 4, []float64{9, 8, 7})
	if got := m.At(4, 4, 1); got != 8 {
		t.Errorf("At(4, 4, 1) = %v, want 8", got)
	}
	if got := m.At(5, 4, 1); got != 2 {
		t.Errorf("At(5, 4, 1) = %v, want 2 (neighbour untouched)", got)
	}
}

func TestImage_SubImageAndDraw(t *testing.T) {
	m := NewImage(image.Rect(0, 0, 4, 4), 1)
	for i := range m.Pix {
		m.Pix[i] = float64(i)
	}
	sub := m.SubImage(image.Rect(1, 1, 3, 5))
	if sub.Rect != image.Rect(1, 1, 3, 4) {
		t.Fatalf("SubImage rect = %v", sub.Rect)
	}
	if got := sub.At(2, 3, 0); got != 14 {
		t.Errorf("sub.At(2, 3) = %v, want 14", got)
	}

	dst := NewFilled(image.Rect(0, 0, 4, 4), []float64{-1})
	dst.Draw(sub)
	if dst.At(0, 0, 0) != -1 || dst.At(1, 1, 0) != 5 || dst.At(2, 3, 0) != 14 {
		t.Errorf("Draw result = %v", dst.Pix)
	}
}

func TestImage_SelectBandsAndStats(t *testing.T) {
	m := NewImage(image.Rect(0, 0, 2, 1), 3)
	copy(m.Pix, []float64{1, 2, 3, 4, 5, 6})
	s := m.SelectBands([]int{2, 0})
	if s.Bands != 2 || s.Pix[0] != 3 || s.Pix[1] != 1 || s.Pix[2] != 6 || s.Pix[3] != 4 {
		t.Errorf("SelectBands = %v", s.Pix)
	}

	m.Pix[1] = -9999
	lo, hi, ok := m.Stats(1, -9999)
	if !ok || lo != 5 || hi != 5 {
		t.Errorf("Stats = (%v, %v, %v), want (5, 5, true)", lo, hi, ok)
	}
}

func TestIsNoData(t *testing.T) {
	tests := []struct {
		v, nd float64
		want  bool
	}{
		{math.NaN(), 0, true},
		{math.NaN(), math.NaN(), true},
		{0, math.NaN(), false},
		{-9999, -9999, true},
		{1, -9999, false},
	}
	for _, tt := range tests {
		if got := IsNoData(tt.v, tt.nd); got != tt.want {
			t.Errorf("IsNoData(%v, %v) = %v, want %v", tt.v, tt.nd, got, tt.want)
		}
	}
}

func TestImagePool(t *testing.T) {
	m := GetImage(image.Rect(0, 0, 8, 8), 2)
	m.Pix[0] = 42
	PutImage(m)
	PutImage(nil)

	got := GetImage(image.Rect(8, 8, 16, 16), 2)
	if got.Rect != image.Rect(8, 8, 16, 16) {
		t.Errorf("Rect = %v", got.Rect)
	}
	for i, v := range got.Pix {
		if v != 0 {
			t.Fatalf("Pix[%d] = %v, want zeroed buffer", i, v)
		}
	}
}
