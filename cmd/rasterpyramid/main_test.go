package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/geotiff"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("1, 2,3,4")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}, b)

	for _, s := range []string{"", "1,2,3", "1,2,x,4", "3,2,1,4", "1,2,3,2"} {
		_, err := parseBBox(s)
		assert.Error(t, err, s)
	}
}

func TestTargetGeometry(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 50}}
	defer func() { widthFlag, heightFlag = 0, 0 }()

	widthFlag, heightFlag = 20, 0
	g, err := targetGeometry(b, coord.LV95, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, g.Width())
	assert.Equal(t, 10, g.Height())

	widthFlag, heightFlag = 0, 0
	g, err = targetGeometry(b, coord.LV95, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Width())
	assert.Equal(t, 20, g.Height())

	_, err = targetGeometry(b, coord.LV95, 0)
	assert.Error(t, err)
}

func TestCollectTIFFs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tif", "b.TIFF", "c.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	files, err := collectTIFFs([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.tif"), filepath.Join(dir, "b.TIFF")}, files)

	_, err = collectTIFFs([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	g, err := grid.FromEnvelope(orb.Bound{Min: orb.Point{2600000, 1200000}, Max: orb.Point{2600080, 1200040}}, 10, 10, coord.LV95)
	require.NoError(t, err)
	img := raster.NewImage(g.Bounds(), 1)
	for i := range img.Pix {
		img.Pix[i] = float64(i)
	}
	cov := &coverage.GridCoverage{Geometry: g, Dims: []coverage.SampleDimension{{Name: "v"}}, Image: img}
	dir := t.TempDir()

	tif := filepath.Join(dir, "out.tif")
	require.NoError(t, writeOutput(tif, cov, outputOptions{}))
	r, err := geotiff.Open(tif)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, coord.LV95, r.GridGeometry().CRS())
	assert.Equal(t, 8, r.GridGeometry().Width())

	png := filepath.Join(dir, "out.PNG")
	require.NoError(t, writeOutput(png, cov, outputOptions{}))
	fi, err := os.Stat(png)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())

	assert.Error(t, writeOutput(filepath.Join(dir, "out.gif"), cov, outputOptions{}))
}
