package tilestore

import (
	"fmt"
	"image"
	"slices"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// catalog holds pyramid definitions in creation order. It is not safe for
// concurrent use; stores guard it with their own lock.
type catalog struct {
	Pyramids []pyramid.Pyramid `cbor:"1,keyasint"`
}

func (c *catalog) index(id string) int {
	return slices.IndexFunc(c.Pyramids, func(p pyramid.Pyramid) bool { return p.ID == id })
}

func (c *catalog) list() []pyramid.Pyramid {
	out := make([]pyramid.Pyramid, len(c.Pyramids))
	for i, p := range c.Pyramids {
		out[i] = clonePyramid(p)
	}
	return out
}

func (c *catalog) get(id string) (pyramid.Pyramid, error) {
	i := c.index(id)
	if i < 0 {
		return pyramid.Pyramid{}, fmt.Errorf("%w: %s", pyramid.ErrPyramidNotFound, id)
	}
	return clonePyramid(c.Pyramids[i]), nil
}

func (c *catalog) create(p pyramid.Pyramid) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if c.index(p.ID) >= 0 {
		return fmt.Errorf("pyramid %s: %w", p.ID, pyramid.ErrExists)
	}
	c.Pyramids = append(c.Pyramids, clonePyramid(p))
	return nil
}

func (c *catalog) addMosaic(pyramidID string, m pyramid.Mosaic) error {
	i := c.index(pyramidID)
	if i < 0 {
		return fmt.Errorf("%w: %s", pyramid.ErrPyramidNotFound, pyramidID)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	p := &c.Pyramids[i]
	if _, ok := p.Mosaic(m.ID); ok {
		return fmt.Errorf("pyramid %s: mosaic %s: %w", pyramidID, m.ID, pyramid.ErrExists)
	}
	p.Mosaics = append(p.Mosaics, m)
	return nil
}

// mosaic resolves a pyramid and one of its mosaics.
func (c *catalog) mosaic(pyramidID, mosaicID string) (pyramid.Pyramid, pyramid.Mosaic, error) {
	i := c.index(pyramidID)
	if i < 0 {
		return pyramid.Pyramid{}, pyramid.Mosaic{}, fmt.Errorf("%w: %s", pyramid.ErrPyramidNotFound, pyramidID)
	}
	p := c.Pyramids[i]
	m, ok := p.Mosaic(mosaicID)
	if !ok {
		return pyramid.Pyramid{}, pyramid.Mosaic{}, fmt.Errorf("%w: %s/%s", pyramid.ErrMosaicNotFound, pyramidID, mosaicID)
	}
	return p, m, nil
}

func clonePyramid(p pyramid.Pyramid) pyramid.Pyramid {
	p.Dims = slices.Clone(p.Dims)
	p.Mosaics = slices.Clone(p.Mosaics)
	return p
}

// checkTile rejects tiles outside the mosaic grid or with the wrong shape.
func checkTile(p pyramid.Pyramid, m pyramid.Mosaic, t pyramid.Tile) error {
	if !image.Pt(t.Col, t.Row).In(image.Rect(0, 0, m.GridWidth, m.GridHeight)) {
		return fmt.Errorf("tile %d/%d outside %dx%d grid of %s/%s", t.Col, t.Row, m.GridWidth, m.GridHeight, p.ID, m.ID)
	}
	if t.Image == nil {
		return fmt.Errorf("tile %d/%d of %s/%s: nil image", t.Col, t.Row, p.ID, m.ID)
	}
	if t.Image.Rect.Dx() != m.TileWidth || t.Image.Rect.Dy() != m.TileHeight || t.Image.Bands != len(p.Dims) {
		return fmt.Errorf("tile %d/%d of %s/%s: got %dx%dx%d, want %dx%dx%d", t.Col, t.Row, p.ID, m.ID,
			t.Image.Rect.Dx(), t.Image.Rect.Dy(), t.Image.Bands, m.TileWidth, m.TileHeight, len(p.Dims))
	}
	return nil
}

// localize returns a copy of img anchored at (0, 0).
func localize(img *raster.Image) *raster.Image {
	out := img.Clone()
	out.Rect = out.Rect.Sub(out.Rect.Min)
	return out
}

type tileKey struct {
	pyramid, mosaic string
	col, row        int
}

func sortPoints(pts []image.Point) {
	slices.SortFunc(pts, func(a, b image.Point) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
}
