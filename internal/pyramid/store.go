package pyramid

import (
	"context"
	"image"
	"iter"

	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// TileStore persists pyramid definitions and their tiles. Implementations
// must be safe for concurrent use.
type TileStore interface {
	Pyramids(ctx context.Context) ([]Pyramid, error)
	// Pyramid returns ErrPyramidNotFound for unknown ids.
	Pyramid(ctx context.Context, id string) (Pyramid, error)
	// CreatePyramid returns ErrExists when the id is taken.
	CreatePyramid(ctx context.Context, p Pyramid) error
	CreateMosaic(ctx context.Context, pyramidID string, m Mosaic) error
	// ReadTile returns ErrTileNotFound for tiles never written. The caller
	// owns the returned image.
	ReadTile(ctx context.Context, pyramidID, mosaicID string, col, row int) (*raster.Image, error)
	WriteTiles(ctx context.Context, pyramidID, mosaicID string, tiles iter.Seq[Tile]) error
	// ListTiles returns the (col, row) of every stored tile of a mosaic.
	ListTiles(ctx context.Context, pyramidID, mosaicID string) ([]image.Point, error)
	Close() error
}
