// Package pyramid models multi-resolution tiled rasters and reads from and
// writes into them through a TileStore.
package pyramid

import (
	"errors"
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

var (
	ErrTileNotFound    = errors.New("tile not found")
	ErrPyramidNotFound = errors.New("pyramid not found")
	ErrMosaicNotFound  = errors.New("mosaic not found")
	ErrExists          = errors.New("already exists")
	// ErrStorage wraps failures while moving pixels between a region and
	// the stored tiles.
	ErrStorage = errors.New("pyramid storage")
)

// snapTol absorbs floating point noise when mapping CRS bounds to pixels.
const snapTol = 1e-9

// Mosaic is one resolution level: a regular grid of equally sized tiles.
type Mosaic struct {
	ID string `json:"id" yaml:"id" cbor:"1,keyasint"`
	// UpperLeft is the CRS position of the top-left corner of tile (0, 0).
	UpperLeft orb.Point `json:"upper_left" yaml:"upper_left" cbor:"2,keyasint"`
	// Scale is the CRS size of one pixel along x and y.
	Scale      [2]float64 `json:"scale" yaml:"scale" cbor:"3,keyasint"`
	TileWidth  int        `json:"tile_width" yaml:"tile_width" cbor:"4,keyasint"`
	TileHeight int        `json:"tile_height" yaml:"tile_height" cbor:"5,keyasint"`
	GridWidth  int        `json:"grid_width" yaml:"grid_width" cbor:"6,keyasint"`
	GridHeight int        `json:"grid_height" yaml:"grid_height" cbor:"7,keyasint"`
}

// Validate checks that all dimensions are positive.
func (m Mosaic) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("mosaic: empty id")
	case m.Scale[0] <= 0 || m.Scale[1] <= 0:
		return fmt.Errorf("mosaic %s: scale %v must be positive", m.ID, m.Scale)
	case m.TileWidth <= 0 || m.TileHeight <= 0:
		return fmt.Errorf("mosaic %s: tile size %dx%d must be positive", m.ID, m.TileWidth, m.TileHeight)
	case m.GridWidth <= 0 || m.GridHeight <= 0:
		return fmt.Errorf("mosaic %s: grid size %dx%d must be positive", m.ID, m.GridWidth, m.GridHeight)
	}
	return nil
}

// Bounds returns the pixel extent of the whole mosaic.
func (m Mosaic) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.GridWidth*m.TileWidth, m.GridHeight*m.TileHeight)
}

// GridToCRS returns the corner-anchored pixel to CRS transform.
func (m Mosaic) GridToCRS() grid.Affine {
	return grid.Affine{A: m.Scale[0], C: m.UpperLeft[0], E: -m.Scale[1], F: m.UpperLeft[1]}
}

// Geometry returns the grid geometry of the whole mosaic.
func (m Mosaic) Geometry(crs coord.CRS) grid.Geometry {
	g, _ := grid.New(m.Bounds(), m.GridToCRS(), grid.Corner, crs)
	return g
}

// TileRect returns the pixel rectangle of tile (col, row) in mosaic pixels.
func (m Mosaic) TileRect(col, row int) image.Rectangle {
	return image.Rect(col*m.TileWidth, row*m.TileHeight, (col+1)*m.TileWidth, (row+1)*m.TileHeight)
}

// LocalRect is the rectangle tiles are stored with.
func (m Mosaic) LocalRect() image.Rectangle {
	return image.Rect(0, 0, m.TileWidth, m.TileHeight)
}

// Envelope returns the CRS bounds of the mosaic.
func (m Mosaic) Envelope() orb.Bound {
	return orb.Bound{
		Min: orb.Point{m.UpperLeft[0], m.UpperLeft[1] - float64(m.GridHeight*m.TileHeight)*m.Scale[1]},
		Max: orb.Point{m.UpperLeft[0] + float64(m.GridWidth*m.TileWidth)*m.Scale[0], m.UpperLeft[1]},
	}
}

// PixelRange returns the mosaic pixels covering env, clipped to the mosaic.
// Membership is half-open: an envelope edge lying exactly on a pixel boundary
// does not pull in the neighbouring pixel.
func (m Mosaic) PixelRange(env orb.Bound) image.Rectangle {
	x0 := (env.Min[0] - m.UpperLeft[0]) / m.Scale[0]
	x1 := (env.Max[0] - m.UpperLeft[0]) / m.Scale[0]
	y0 := (m.UpperLeft[1] - env.Max[1]) / m.Scale[1]
	y1 := (m.UpperLeft[1] - env.Min[1]) / m.Scale[1]
	r := image.Rect(
		int(math.Floor(x0+snapTol)), int(math.Floor(y0+snapTol)),
		int(math.Ceil(x1-snapTol)), int(math.Ceil(y1-snapTol)),
	)
	return r.Intersect(m.Bounds())
}

// TileRange returns the tiles covering the given pixel rectangle as a
// half-open range of (col, row).
func (m Mosaic) TileRange(px image.Rectangle) image.Rectangle {
	px = px.Intersect(m.Bounds())
	if px.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(
		px.Min.X/m.TileWidth, px.Min.Y/m.TileHeight,
		(px.Max.X+m.TileWidth-1)/m.TileWidth, (px.Max.Y+m.TileHeight-1)/m.TileHeight,
	)
}

// Tile is a stored tile. Image uses the local rectangle (0, 0)-(w, h).
type Tile struct {
	Col, Row int
	Image    *raster.Image
}

// Pyramid is a set of mosaics over the same area at different resolutions.
type Pyramid struct {
	ID      string                     `json:"id" yaml:"id" cbor:"1,keyasint"`
	CRS     coord.CRS                  `json:"crs" yaml:"crs" cbor:"2,keyasint"`
	Dims    []coverage.SampleDimension `json:"dims" yaml:"dims" cbor:"3,keyasint"`
	Mosaics []Mosaic                   `json:"mosaics" yaml:"mosaics" cbor:"4,keyasint"`
}

// Validate checks the pyramid and all its mosaics.
func (p Pyramid) Validate() error {
	if p.ID == "" {
		return errors.New("pyramid: empty id")
	}
	if p.CRS.IsZero() {
		return fmt.Errorf("pyramid %s: undefined crs", p.ID)
	}
	if len(p.Dims) == 0 {
		return fmt.Errorf("pyramid %s: no sample dimensions", p.ID)
	}
	seen := make(map[string]bool, len(p.Mosaics))
	for _, m := range p.Mosaics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("pyramid %s: %w", p.ID, err)
		}
		if seen[m.ID] {
			return fmt.Errorf("pyramid %s: mosaic %s: %w", p.ID, m.ID, ErrExists)
		}
		seen[m.ID] = true
	}
	return nil
}

// Mosaic returns the mosaic with the given id.
func (p Pyramid) Mosaic(id string) (Mosaic, bool) {
	i := slices.IndexFunc(p.Mosaics, func(m Mosaic) bool { return m.ID == id })
	if i < 0 {
		return Mosaic{}, false
	}
	return p.Mosaics[i], true
}

// Fills returns the per-band fill values for new tiles.
func (p Pyramid) Fills() []float64 { return coverage.Fills(p.Dims) }

// Envelope returns the union of mosaic envelopes.
func (p Pyramid) Envelope() orb.Bound {
	var b orb.Bound
	for i, m := range p.Mosaics {
		if i == 0 {
			b = m.Envelope()
			continue
		}
		b = b.Union(m.Envelope())
	}
	return b
}

// Finest returns the mosaic with the smallest pixel size.
func (p Pyramid) Finest() (Mosaic, bool) {
	if len(p.Mosaics) == 0 {
		return Mosaic{}, false
	}
	return slices.MinFunc(p.Mosaics, func(a, b Mosaic) int {
		return cmpFloat(pixelSize(a), pixelSize(b))
	}), true
}

// NewMosaic sizes a mosaic so that its grid covers the pyramid envelope
// anchored at upperLeft.
func NewMosaic(id string, env orb.Bound, scale float64, tileW, tileH int) Mosaic {
	gw := int(math.Ceil((env.Max[0]-env.Min[0])/(scale*float64(tileW)) - snapTol))
	gh := int(math.Ceil((env.Max[1]-env.Min[1])/(scale*float64(tileH)) - snapTol))
	return Mosaic{
		ID:         id,
		UpperLeft:  orb.Point{env.Min[0], env.Max[1]},
		Scale:      [2]float64{scale, scale},
		TileWidth:  tileW,
		TileHeight: tileH,
		GridWidth:  max(gw, 1),
		GridHeight: max(gh, 1),
	}
}

func pixelSize(m Mosaic) float64 { return math.Min(m.Scale[0], m.Scale[1]) }

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
