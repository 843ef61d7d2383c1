package geotiff

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/grid"
)

// GeoKey IDs.
const (
	gkModelType      = 1024
	gkRasterType     = 1025
	gkGeographicType = 2048
	gkProjectedCS    = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	rasterPixelIsPoint  = 2
)

// geoKeys decodes the short-valued entries of a GeoKey directory.
func geoKeys(dir []uint16) map[uint16]uint16 {
	keys := make(map[uint16]uint16)
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(dir) {
			break
		}
		// Location 0 means the value is stored inline.
		if dir[base+1] == 0 {
			keys[dir[base]] = dir[base+3]
		}
	}
	return keys
}

// georeference holds the grid-to-CRS mapping recovered from a file.
type georeference struct {
	transform grid.Affine
	anchor    grid.PixelAnchor
	epsg      int
}

// georeference reads ModelTransformation or ModelTiepoint plus ModelPixelScale.
// ok is false when the file carries neither.
func (d *ifd) georeference() (georeference, bool, error) {
	keys := geoKeys(d.GeoKeyDirectoryTag)
	ref := georeference{anchor: grid.Corner}
	if keys[gkRasterType] == rasterPixelIsPoint {
		ref.anchor = grid.Center
	}
	if code := keys[gkProjectedCS]; code > 0 && code != 32767 {
		ref.epsg = int(code)
	} else if code := keys[gkGeographicType]; code > 0 && code != 32767 {
		ref.epsg = int(code)
	}

	switch {
	case len(d.ModelTransformationTag) >= 16:
		m := d.ModelTransformationTag
		ref.transform = grid.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	case len(d.ModelPixelScaleTag) >= 2 && len(d.ModelTiePointTag) >= 6:
		sx, sy := d.ModelPixelScaleTag[0], d.ModelPixelScaleTag[1]
		tp := d.ModelTiePointTag
		ref.transform = grid.Affine{
			A: sx, C: tp[3] - tp[0]*sx,
			E: -sy, F: tp[4] + tp[1]*sy,
		}
	default:
		return ref, false, nil
	}
	if ref.transform.Det() == 0 {
		return ref, false, fmt.Errorf("%w: singular georeferencing %v", ErrUnsupported, ref.transform)
	}
	return ref, true, nil
}

// readWorldFile parses a six-line world file. Its origin is the centre of
// the upper-left pixel.
func readWorldFile(path string) (georeference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return georeference{}, fmt.Errorf("reading world file %s: %w", path, err)
	}
	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return georeference{}, fmt.Errorf("world file %s: expected 6 values, got %d", path, len(lines))
	}
	var v [6]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(lines[i], 64)
		if err != nil {
			return georeference{}, fmt.Errorf("world file %s line %d: %w", path, i+1, err)
		}
	}
	t := grid.Affine{A: v[0], B: v[2], C: v[4], D: v[1], E: v[3], F: v[5]}
	if t.Det() == 0 {
		return georeference{}, fmt.Errorf("world file %s: singular transform", path)
	}
	return georeference{transform: t, anchor: grid.Center}, nil
}

// findWorldFile looks for a sidecar next to the TIFF.
func findWorldFile(tiffPath string) string {
	base := strings.TrimSuffix(tiffPath, filepath.Ext(tiffPath))
	for _, ext := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// inferEPSG guesses the CRS of a file without GeoKeys from the coordinate
// ranges of its corners.
func inferEPSG(t grid.Affine, width, height int) int {
	x0, y0 := t.Apply(0, 0)
	x1, y1 := t.Apply(float64(width), float64(height))
	minX, maxX := math.Min(x0, x1), math.Max(x0, x1)
	minY, maxY := math.Min(y0, y1), math.Max(y0, y1)

	if minX >= -180 && maxX <= 360 && minY >= -90 && maxY <= 90 {
		return 4326
	}
	if minX >= 2400000 && maxX <= 2900000 && minY >= 1000000 && maxY <= 1400000 {
		return 2056
	}
	if math.Abs(minX) <= coord.OriginShift && math.Abs(maxX) <= coord.OriginShift*1.001 {
		return 3857
	}
	return 4326
}

// crsFor returns the CRS for an EPSG code. GeoTIFF coordinates are always
// easting first.
func crsFor(epsg int) coord.CRS {
	return coord.CRS{EPSG: epsg, Order: coord.EastNorth}
}

// geoKeyDirectory encodes the GeoKeys written by Encode.
func geoKeyDirectory(epsg int) []uint16 {
	model, key := uint16(modelTypeProjected), uint16(gkProjectedCS)
	if epsg == 4326 {
		model, key = modelTypeGeographic, gkGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		gkModelType, 0, 1, model,
		gkRasterType, 0, 1, rasterPixelIsArea,
		key, 0, 1, uint16(epsg),
	}
}

// swapAxes exchanges the output axes of t.
func swapAxes(t grid.Affine) grid.Affine {
	return grid.Affine{A: t.D, B: t.E, C: t.F, D: t.A, E: t.B, F: t.C}
}
