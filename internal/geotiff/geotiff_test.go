package geotiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

func gradient(t *testing.T, b orb.Bound, res float64, bands int) *coverage.GridCoverage {
	t.Helper()
	g, err := grid.FromEnvelope(b, res, res, coord.CRS84)
	require.NoError(t, err)
	img := raster.NewImage(g.Bounds(), bands)
	dims := make([]coverage.SampleDimension, bands)
	for i := range dims {
		dims[i] = coverage.SampleDimension{Name: "b", NoData: []float64{-9999}}
	}
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			for k := 0; k < bands; k++ {
				img.Set(x, y, k, float64(x+100*y+10000*k))
			}
		}
	}
	return &coverage.GridCoverage{Geometry: g, Dims: dims, Image: img}
}

func writeAndOpen(t *testing.T, cov *coverage.GridCoverage, opts EncodeOptions, ropts ...Option) *Resource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.tif")
	require.NoError(t, WriteFile(path, cov, opts))
	r, err := Open(path, ropts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEncodeOpen_RoundTrip(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-10, 40}, Max: orb.Point{27, 61}}
	tests := map[string]EncodeOptions{
		"strips":         {RowsPerStrip: 4},
		"strips deflate": {Deflate: true},
		"tiles":          {TileSize: 16},
		"tiles deflate":  {TileSize: 16, Deflate: true},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			src := gradient(t, b, 1, 2)
			r := writeAndOpen(t, src, opts)

			assert.Equal(t, "out", r.Identifier())
			g := r.GridGeometry()
			assert.Equal(t, coord.CRS84, g.CRS())
			assert.Equal(t, image.Rect(0, 0, 37, 21), g.Bounds())
			env, err := g.Envelope()
			require.NoError(t, err)
			assert.Equal(t, b, env)

			dims := r.SampleDimensions()
			require.Len(t, dims, 2)
			assert.Equal(t, []float64{-9999}, dims[0].NoData)

			cov, err := r.Coverage()
			require.NoError(t, err)
			assert.Equal(t, src.Image.Pix, cov.Image.Pix)
		})
	}
}

func TestEncode_NorthEastAxisOrder(t *testing.T) {
	g, err := grid.New(image.Rect(0, 0, 19, 9),
		grid.Affine{A: 0, B: -10, C: 60, D: 10, E: 0, F: -120}, grid.Corner, coord.EPSG4326)
	require.NoError(t, err)
	src := &coverage.GridCoverage{
		Geometry: g,
		Dims:     []coverage.SampleDimension{{Name: "red"}},
		Image:    raster.NewFilled(g.Bounds(), []float64{1}),
	}
	src.Image.Set(3, 2, 0, 7)

	r := writeAndOpen(t, src, EncodeOptions{})
	assert.Equal(t, coord.CRS84, r.GridGeometry().CRS())
	env, err := r.GridGeometry().Envelope()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-120, -30}, Max: orb.Point{70, 60}}, env)

	cov, err := r.Coverage()
	require.NoError(t, err)
	assert.Equal(t, 7.0, cov.Image.At(3, 2, 0))
	assert.Empty(t, r.SampleDimensions()[0].NoData)

	// Reopening with the north-east CRS restores the original mapping.
	r2, err := Open(r.Path(), WithCRS(coord.EPSG4326))
	require.NoError(t, err)
	defer r2.Close()
	t2, err := r2.GridGeometry().GridToCRS(grid.Corner)
	require.NoError(t, err)
	t1, _ := g.GridToCRS(grid.Corner)
	assert.Equal(t, t1, t2)
}

func TestEncode_RotatedTransform(t *testing.T) {
	a := grid.Affine{A: 2, B: 0.5, C: 2600000, D: 0.5, E: -2, F: 1200000}
	g, err := grid.New(image.Rect(0, 0, 8, 6), a, grid.Corner, coord.LV95)
	require.NoError(t, err)
	src := &coverage.GridCoverage{
		Geometry: g,
		Dims:     []coverage.SampleDimension{{Name: "v", NoData: []float64{math.NaN()}}},
		Image:    raster.NewFilled(g.Bounds(), []float64{42}),
	}
	r := writeAndOpen(t, src, EncodeOptions{Deflate: true})
	got, err := r.GridGeometry().GridToCRS(grid.Corner)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, coord.LV95, r.GridGeometry().CRS())
	require.Len(t, r.SampleDimensions()[0].NoData, 1)
	assert.True(t, math.IsNaN(r.SampleDimensions()[0].NoData[0]))
}

func TestResource_Read(t *testing.T) {
	src := gradient(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{40, 20}}, 1, 1)
	r := writeAndOpen(t, src, EncodeOptions{TileSize: 16}, WithInterpolation(raster.Nearest), WithID("grad"))
	assert.Equal(t, "grad", r.Identifier())

	tg, err := grid.FromEnvelope(orb.Bound{Min: orb.Point{10, 5}, Max: orb.Point{20, 10}}, 1, 1, coord.CRS84)
	require.NoError(t, err)
	got, err := r.Read(context.Background(), tg)
	require.NoError(t, err)
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			assert.Equal(t, float64(x+10+100*(y+10)), got.Image.At(x, y, 0), "pixel %d,%d", x, y)
		}
	}

	far, err := grid.FromEnvelope(orb.Bound{Min: orb.Point{100, 50}, Max: orb.Point{110, 60}}, 1, 1, coord.CRS84)
	require.NoError(t, err)
	_, err = r.Read(context.Background(), far)
	assert.ErrorIs(t, err, coverage.ErrDisjointDomain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Read(ctx, tg)
	assert.ErrorIs(t, err, context.Canceled)
}

// plainTIFF builds a 4x3 uint16 TIFF with horizontal differencing and no
// georeferencing tags.
func plainTIFF(t *testing.T) []byte {
	t.Helper()
	const w, h = 4, 3
	strip := make([]byte, w*h*2)
	for y := 0; y < h; y++ {
		prev := uint16(0)
		for x := 0; x < w; x++ {
			v := uint16(x*10 + y*1000)
			binary.LittleEndian.PutUint16(strip[2*(y*w+x):], v-prev)
			prev = v
		}
	}
	var buf bytes.Buffer
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(header[4:], uint32(8+len(strip)))
	buf.Write(header)
	buf.Write(strip)
	fields := []field{
		longs(256, w),
		longs(257, h),
		shorts(258, 16),
		shorts(259, compressionNone),
		shorts(262, photometricMinIsBlack),
		longs(273, 8),
		shorts(277, 1),
		longs(278, h),
		longs(279, uint32(len(strip))),
		shorts(317, predictorHorizontal),
	}
	require.NoError(t, writeIFD(&buf, fields, uint32(8+len(strip))))
	return buf.Bytes()
}

func TestOpen_WorldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.tif")
	require.NoError(t, os.WriteFile(path, plainTIFF(t), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.tfw"),
		[]byte("2\n0\n0\n-2\n2600001\n1200001\n"), 0o644))
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, coord.LV95, r.GridGeometry().CRS())
	env, err := r.GridGeometry().Envelope()
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{2600000, 1199996}, Max: orb.Point{2600008, 1200002}}, env)

	cov, err := r.Coverage()
	require.NoError(t, err)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, float64(x*10+y*1000), cov.Image.At(x, y, 0))
		}
	}
}

func TestOpen_NotTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tif")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a tiff"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.tif"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUndoFloatingPoint(t *testing.T) {
	vals := []float32{1.5, -2.25, 3, 1e-3}
	stride, size := len(vals), 4
	row := make([]byte, stride*size)
	want := make([]byte, stride*size)
	for k, v := range vals {
		binary.BigEndian.PutUint32(want[4*k:], math.Float32bits(v))
		for b := 0; b < size; b++ {
			row[b*stride+k] = want[4*k+b]
		}
	}
	for i := len(row) - 1; i >= 1; i-- {
		row[i] -= row[i-1]
	}
	assert.Equal(t, want, undoFloatingPoint(row, stride, 1, size))
}

func TestInferEPSG(t *testing.T) {
	assert.Equal(t, 4326, inferEPSG(grid.Affine{A: 0.1, E: -0.1, C: 5, F: 47}, 10, 10))
	assert.Equal(t, 2056, inferEPSG(grid.Affine{A: 10, E: -10, C: 2600000, F: 1200000}, 100, 100))
	assert.Equal(t, 3857, inferEPSG(grid.Affine{A: 10, E: -10, C: 800000, F: 5900000}, 100, 100))
}
