package grid

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/coord"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAffine_InvertRoundTrip(t *testing.T) {
	m := Affine{A: 2, B: 0.5, C: 10, D: -0.25, E: -3, F: 100}
	inv, err := m.Invert()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range [][2]float64{{0, 0}, {1, 2}, {-7.5, 3.25}} {
		x, y := m.Apply(p[0], p[1])
		bx, by := inv.Apply(x, y)
		if !near(bx, p[0]) || !near(by, p[1]) {
			t.Errorf("inv(m(%v)) = (%v, %v)", p, bx, by)
		}
	}
	if !m.Then(inv).IsIdentity(1e-12) {
		t.Errorf("m.Then(inv) = %v, want identity", m.Then(inv))
	}
}

func TestAffine_Singular(t *testing.T) {
	_, err := Affine{A: 1, B: 2, D: 2, E: 4}.Invert()
	if !errors.Is(err, ErrSingular) {
		t.Errorf("Invert() error = %v, want ErrSingular", err)
	}
}

func TestAffine_Then(t *testing.T) {
	m := Scale(2, 3).Then(Translation(1, 1))
	x, y := m.Apply(1, 1)
	if x != 3 || y != 4 {
		t.Errorf("Apply(1, 1) = (%v, %v), want (3, 4)", x, y)
	}
}

func TestNew_RejectsNegativeSpan(t *testing.T) {
	_, err := New(image.Rectangle{Min: image.Pt(5, 0), Max: image.Pt(0, 3)}, Identity, Corner, coord.CRS84)
	if err == nil {
		t.Error("New with negative span succeeded")
	}
}

func TestNew_CenterAnchor(t *testing.T) {
	g, err := New(image.Rect(0, 0, 4, 4), Affine{A: 10, C: 5, E: -10, F: 95}, Center, coord.CRS84)
	if err != nil {
		t.Fatal(err)
	}
	env, _ := g.Envelope()
	want := orb.Bound{Min: orb.Point{0, 60}, Max: orb.Point{40, 100}}
	if env != want {
		t.Errorf("Envelope() = %v, want %v", env, want)
	}
	c, _ := g.GridToCRS(Center)
	if x, y := c.Apply(0, 0); x != 5 || y != 95 {
		t.Errorf("center of (0,0) = (%v, %v), want (5, 95)", x, y)
	}
}

func TestIncompleteGeometry(t *testing.T) {
	ext := FromExtent(image.Rect(0, 0, 10, 10))
	if _, err := ext.Resolution(); !errors.Is(err, ErrIncompleteGeometry) {
		t.Errorf("Resolution() on extent-only error = %v", err)
	}
	if _, err := ext.Envelope(); !errors.Is(err, ErrIncompleteGeometry) {
		t.Errorf("Envelope() on extent-only error = %v", err)
	}
	tr := FromTransform(Identity, Corner, coord.CRS84)
	if _, err := tr.Resolution(); !errors.Is(err, ErrIncompleteGeometry) {
		t.Errorf("Resolution() on transform-only error = %v", err)
	}
	if _, err := tr.Extent(); !errors.Is(err, ErrIncompleteGeometry) {
		t.Errorf("Extent() on transform-only error = %v", err)
	}
}

func TestFromEnvelope(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	g, err := FromEnvelope(b, 10, 10, coord.CRS84)
	if err != nil {
		t.Fatal(err)
	}
	if g.Width() != 36 || g.Height() != 18 {
		t.Errorf("size = %dx%d, want 36x18", g.Width(), g.Height())
	}
	res, _ := g.Resolution()
	if res != [2]float64{10, 10} {
		t.Errorf("Resolution() = %v, want [10 10]", res)
	}
	env, _ := g.Envelope()
	if env != b {
		t.Errorf("Envelope() = %v, want %v", env, b)
	}
}

func TestDerive_Subgrid(t *testing.T) {
	g, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}, 1, 1, coord.CRS84)
	tests := []struct {
		name     string
		env      orb.Bound
		rounding Rounding
		want     image.Rectangle
	}{
		{"aligned", orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{20, 30}}, Enclosing, image.Rect(10, 70, 20, 90)},
		{"enclosing", orb.Bound{Min: orb.Point{10.2, 10.2}, Max: orb.Point{19.8, 29.8}}, Enclosing, image.Rect(10, 70, 20, 90)},
		{"nearest", orb.Bound{Min: orb.Point{10.2, 10.2}, Max: orb.Point{19.8, 29.8}}, Nearest, image.Rect(10, 70, 20, 90)},
		{"nearest shrinks", orb.Bound{Min: orb.Point{10.6, 10.6}, Max: orb.Point{19.4, 29.4}}, Nearest, image.Rect(11, 71, 19, 89)},
		{"clipped", orb.Bound{Min: orb.Point{-50, -50}, Max: orb.Point{5, 5}}, Enclosing, image.Rect(0, 95, 5, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := g.Derive().Rounding(tt.rounding).Subgrid(tt.env).Build()
			if err != nil {
				t.Fatal(err)
			}
			if d.Bounds() != tt.want {
				t.Errorf("extent = %v, want %v", d.Bounds(), tt.want)
			}
		})
	}
}

func TestDerive_Disjoint(t *testing.T) {
	g, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 1, 1, coord.CRS84)
	_, err := g.Derive().Subgrid(orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{30, 30}}).Build()
	if !errors.Is(err, ErrDisjointExtent) {
		t.Errorf("Build() error = %v, want ErrDisjointExtent", err)
	}
	_, err = g.Derive().Clip(image.Rect(50, 50, 60, 60)).Build()
	if !errors.Is(err, ErrDisjointExtent) {
		t.Errorf("Clip Build() error = %v, want ErrDisjointExtent", err)
	}
}

func TestDerive_SubsampleAndMargin(t *testing.T) {
	g, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}, 1, 1, coord.CRS84)
	d, err := g.Derive().Subgrid(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}, 4).Margin(2, 1).Build()
	if err != nil {
		t.Fatal(err)
	}
	if want := image.Rect(-2, -1, 27, 26); d.Bounds() != want {
		t.Errorf("extent = %v, want %v", d.Bounds(), want)
	}
	res, _ := d.Resolution()
	if res != [2]float64{4, 4} {
		t.Errorf("Resolution() = %v, want [4 4]", res)
	}
	// The original corner is preserved by subsampling.
	c, _ := d.GridToCRS(Corner)
	if x, y := c.Apply(0, 0); x != 0 || y != 100 {
		t.Errorf("origin = (%v, %v), want (0, 100)", x, y)
	}
}

func TestGridToGrid_SameCRS(t *testing.T) {
	fine, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 0.5, 0.5, coord.CRS84)
	coarse, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 2, 2, coord.CRS84)
	f, err := GridToGrid(coarse, fine)
	if err != nil {
		t.Fatal(err)
	}
	x, y, ok := f(1.5, 2.5)
	if !ok || x != 6 || y != 10 {
		t.Errorf("f(1.5, 2.5) = (%v, %v, %v), want (6, 10, true)", x, y, ok)
	}
}

func TestGridToGrid_AxisSwap(t *testing.T) {
	lonlat, _ := FromEnvelope(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 20}}, 1, 1, coord.CRS84)
	// Same area, rows along longitude and columns along latitude.
	latlon, err := New(image.Rect(0, 0, 20, 10), Affine{A: 1, C: 0, E: -1, F: 10}, Corner, coord.EPSG4326)
	if err != nil {
		t.Fatal(err)
	}
	f, err := GridToGrid(lonlat, latlon)
	if err != nil {
		t.Fatal(err)
	}
	// Pixel (2.5, 0.5) of lonlat is lon 2.5, lat 19.5 -> latlon pixel (19.5, 7.5).
	x, y, ok := f(2.5, 0.5)
	if !ok || !near(x, 19.5) || !near(y, 7.5) {
		t.Errorf("f(2.5, 0.5) = (%v, %v, %v), want (19.5, 7.5, true)", x, y, ok)
	}
}

func TestReproject(t *testing.T) {
	g, _ := FromEnvelope(orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}, 1, 1, coord.CRS84)
	r, err := g.Reproject(coord.WebMercator)
	if err != nil {
		t.Fatal(err)
	}
	if r.CRS() != coord.WebMercator {
		t.Errorf("CRS() = %v", r.CRS())
	}
	if r.Width() != 20 || r.Height() != 20 {
		t.Errorf("size = %dx%d, want 20x20", r.Width(), r.Height())
	}
	env, _ := r.Envelope()
	if math.Abs(env.Max[0]-coord.OriginShift*10/180) > 1 {
		t.Errorf("max x = %v", env.Max[0])
	}
}
