package tilestore

import (
	"context"
	"fmt"
	"image"
	"iter"
	"sync"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	cat   catalog
	tiles map[tileKey]*raster.Image
}

var _ pyramid.TileStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiles: make(map[tileKey]*raster.Image)}
}

func (s *MemoryStore) Pyramids(ctx context.Context) ([]pyramid.Pyramid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat.list(), nil
}

func (s *MemoryStore) Pyramid(ctx context.Context, id string) (pyramid.Pyramid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cat.get(id)
}

func (s *MemoryStore) CreatePyramid(ctx context.Context, p pyramid.Pyramid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cat.create(p)
}

func (s *MemoryStore) CreateMosaic(ctx context.Context, pyramidID string, m pyramid.Mosaic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cat.addMosaic(pyramidID, m)
}

func (s *MemoryStore) ReadTile(ctx context.Context, pyramidID, mosaicID string, col, row int) (*raster.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, _, err := s.cat.mosaic(pyramidID, mosaicID); err != nil {
		return nil, err
	}
	img, ok := s.tiles[tileKey{pyramidID, mosaicID, col, row}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%d/%d", pyramid.ErrTileNotFound, pyramidID, mosaicID, col, row)
	}
	return img.Clone(), nil
}

func (s *MemoryStore) WriteTiles(ctx context.Context, pyramidID, mosaicID string, tiles iter.Seq[pyramid.Tile]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, m, err := s.cat.mosaic(pyramidID, mosaicID)
	if err != nil {
		return err
	}
	for t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkTile(p, m, t); err != nil {
			return err
		}
		s.tiles[tileKey{pyramidID, mosaicID, t.Col, t.Row}] = localize(t.Image)
	}
	return nil
}

func (s *MemoryStore) ListTiles(ctx context.Context, pyramidID, mosaicID string) ([]image.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, _, err := s.cat.mosaic(pyramidID, mosaicID); err != nil {
		return nil, err
	}
	var pts []image.Point
	for k := range s.tiles {
		if k.pyramid == pyramidID && k.mosaic == mosaicID {
			pts = append(pts, image.Pt(k.col, k.row))
		}
	}
	sortPoints(pts)
	return pts, nil
}

func (s *MemoryStore) Close() error { return nil }
