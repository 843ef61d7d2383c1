package raster

import (
	"image"
	"math"
	"testing"
)

func identity(x, y float64) (float64, float64, bool) { return x, y, true }

func ramp(r image.Rectangle) *Image {
	m := NewImage(r, 1)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, 0, float64(10*y+x))
		}
	}
	return m
}

func TestResampler_IdentityIsExact(t *testing.T) {
	src := ramp(image.Rect(0, 0, 8, 8))
	for _, interp := range []Interpolation{Nearest, Bilinear, Bicubic} {
		t.Run(interp.String(), func(t *testing.T) {
			rs := &Resampler{Source: src, Transform: identity, Interpolation: interp}
			defer rs.Close()
			out := rs.Resample(src.Rect)
			for i := range src.Pix {
				if out.Pix[i] != src.Pix[i] {
					t.Fatalf("Pix[%d] = %v, want %v", i, out.Pix[i], src.Pix[i])
				}
			}
		})
	}
}

func TestResampler_BilinearHalfPixel(t *testing.T) {
	src := ramp(image.Rect(0, 0, 4, 4))
	shift := func(x, y float64) (float64, float64, bool) { return x + 0.5, y, true }
	rs := &Resampler{Source: src, Transform: shift, Interpolation: Bilinear}
	defer rs.Close()
	out := rs.Resample(image.Rect(0, 0, 3, 1))
	for x, want := range []float64{0.5, 1.5, 2.5} {
		if got := out.At(x, 0, 0); math.Abs(got-want) > 1e-12 {
			t.Errorf("At(%d, 0) = %v, want %v", x, got, want)
		}
	}
}

func TestResampler_NoDataExcluded(t *testing.T) {
	src := NewImage(image.Rect(0, 0, 2, 1), 1)
	src.Pix[0], src.Pix[1] = 4, -9999
	shift := func(x, y float64) (float64, float64, bool) { return x + 0.25, y, true }
	rs := &Resampler{Source: src, Transform: shift, Interpolation: Bilinear, NoData: []float64{-9999}}
	defer rs.Close()
	var got []float64
	var valid []bool
	rs.Each(image.Rect(0, 0, 2, 1), func(x, y int, px []float64, ok bool) {
		got = append(got, px[0])
		valid = append(valid, ok)
	})
	// x=0.75 lies in the valid pixel; its nodata neighbour is left out.
	if !valid[0] || got[0] != 4 {
		t.Errorf("pixel 0 = (%v, %v), want (4, true)", got[0], valid[0])
	}
	// x=1.75 lies in the nodata pixel.
	if valid[1] || got[1] != -9999 {
		t.Errorf("pixel 1 = (%v, %v), want (-9999, false)", got[1], valid[1])
	}
}

func TestResampler_NoDataPaddingStaysEmpty(t *testing.T) {
	// One valid column surrounded by NaN, sampled at a quarter pixel.
	src := NewFilled(image.Rect(-2, 0, 3, 1), []float64{math.NaN()})
	src.Set(0, 0, 0, 5)
	quarter := func(x, y float64) (float64, float64, bool) { return x / 4, y, true }
	for _, interp := range []Interpolation{Nearest, Bilinear, Bicubic, Lanczos3} {
		rs := &Resampler{Source: src, Transform: quarter, Interpolation: interp}
		rs.Each(image.Rect(-4, 0, 8, 1), func(x, y int, px []float64, ok bool) {
			inside := x >= 0 && x < 4
			if ok != inside {
				t.Errorf("%v: x=%d valid=%v, want %v", interp, x, ok, inside)
			}
			if inside && math.Abs(px[0]-5) > 1e-12 {
				t.Errorf("%v: x=%d = %v, want 5", interp, x, px[0])
			}
		})
		rs.Close()
	}
}

func TestResampler_AllNoDataIsInvalid(t *testing.T) {
	src := NewFilled(image.Rect(0, 0, 3, 3), []float64{math.NaN()})
	for _, interp := range []Interpolation{Nearest, Bilinear, Bicubic, Lanczos3} {
		rs := &Resampler{Source: src, Transform: identity, Interpolation: interp}
		rs.Each(src.Rect, func(x, y int, px []float64, ok bool) {
			if ok || !math.IsNaN(px[0]) {
				t.Errorf("%v: (%d, %d) = (%v, %v), want (NaN, false)", interp, x, y, px[0], ok)
			}
		})
		rs.Close()
	}
}

func TestResampler_Border(t *testing.T) {
	src := ramp(image.Rect(0, 0, 2, 2))
	outside := func(x, y float64) (float64, float64, bool) { return x - 5, y, true }

	fill := &Resampler{Source: src, Transform: outside, Interpolation: Bilinear, Fill: []float64{-1}}
	defer fill.Close()
	if got := fill.Resample(image.Rect(0, 0, 1, 1)).At(0, 0, 0); got != -1 {
		t.Errorf("BorderFill = %v, want -1", got)
	}

	cl := &Resampler{Source: src, Transform: outside, Interpolation: Bilinear, Border: BorderClamp}
	defer cl.Close()
	if got := cl.Resample(image.Rect(0, 0, 1, 1)).At(0, 0, 0); got != 0 {
		t.Errorf("BorderClamp = %v, want edge value 0", got)
	}
}

func TestResampler_TransformFailure(t *testing.T) {
	src := ramp(image.Rect(0, 0, 2, 2))
	fail := func(x, y float64) (float64, float64, bool) { return 0, 0, false }
	rs := &Resampler{Source: src, Transform: fail, Interpolation: Nearest}
	defer rs.Close()
	rs.Each(src.Rect, func(x, y int, px []float64, ok bool) {
		if ok {
			t.Errorf("(%d, %d) valid after transform failure", x, y)
		}
	})
}

func TestResampler_BandSubset(t *testing.T) {
	src := NewFilled(image.Rect(0, 0, 2, 2), []float64{1, 2, 3})
	rs := &Resampler{Source: src, Transform: identity, Interpolation: Bilinear, Bands: []int{2}}
	defer rs.Close()
	out := rs.Resample(src.Rect)
	if out.Bands != 1 || out.Pix[0] != 3 {
		t.Errorf("band subset = %d bands, first %v", out.Bands, out.Pix[0])
	}
}

func TestKernelLUTAccuracy(t *testing.T) {
	for x := -3.5; x <= 3.5; x += 0.013 {
		if d := math.Abs(lanczos3LUT(x) - lanczos3(x)); d > 1e-5 {
			t.Errorf("lanczos3LUT(%v) off by %v", x, d)
		}
		if d := math.Abs(bicubicLUT(x) - bicubic(x)); d > 1e-5 {
			t.Errorf("bicubicLUT(%v) off by %v", x, d)
		}
	}
}

func TestParseInterpolation(t *testing.T) {
	tests := []struct {
		in   string
		want Interpolation
		err  bool
	}{
		{"nearest", Nearest, false},
		{"Bilinear", Bilinear, false},
		{"", Bilinear, false},
		{"cubic", Bicubic, false},
		{"lanczos", Lanczos3, false},
		{"mode", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInterpolation(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseInterpolation(%q) = (%v, %v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.err)
		}
	}
}
