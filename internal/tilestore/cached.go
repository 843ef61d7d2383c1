package tilestore

import (
	"context"
	"iter"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// DefaultCacheSize is the number of decoded tiles a CachedStore keeps.
const DefaultCacheSize = 1024

// CachedStore keeps recently read or written tiles decoded in an LRU in
// front of another store. Catalog calls pass through.
type CachedStore struct {
	pyramid.TileStore

	cache   *lru.Cache[tileKey, *raster.Image]
	metrics *metrics.Provider

	hits, misses atomic.Int64
}

type CacheOption func(*CachedStore)

func WithCacheMetrics(p *metrics.Provider) CacheOption {
	return func(c *CachedStore) { c.metrics = p }
}

// NewCached wraps inner with a cache of size tiles. A size <= 0 selects
// DefaultCacheSize.
func NewCached(inner pyramid.TileStore, size int, opts ...CacheOption) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, _ := lru.New[tileKey, *raster.Image](size)
	s := &CachedStore{TileStore: inner, cache: c}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *CachedStore) ReadTile(ctx context.Context, pyramidID, mosaicID string, col, row int) (*raster.Image, error) {
	key := tileKey{pyramidID, mosaicID, col, row}
	if img, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		s.metrics.CacheLookup(true)
		return img.Clone(), nil
	}
	s.misses.Add(1)
	s.metrics.CacheLookup(false)
	img, err := s.TileStore.ReadTile(ctx, pyramidID, mosaicID, col, row)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, img.Clone())
	return img, nil
}

// WriteTiles drops the affected entries and, once the inner store accepted
// the batch, caches the written tiles.
func (s *CachedStore) WriteTiles(ctx context.Context, pyramidID, mosaicID string, tiles iter.Seq[pyramid.Tile]) error {
	var written []pyramid.Tile
	seq := func(yield func(pyramid.Tile) bool) {
		for t := range tiles {
			s.cache.Remove(tileKey{pyramidID, mosaicID, t.Col, t.Row})
			written = append(written, t)
			if !yield(t) {
				return
			}
		}
	}
	if err := s.TileStore.WriteTiles(ctx, pyramidID, mosaicID, seq); err != nil {
		return err
	}
	for _, t := range written {
		s.cache.Add(tileKey{pyramidID, mosaicID, t.Col, t.Row}, localize(t.Image))
	}
	return nil
}

// Stats returns the cache hit and miss counts.
func (s *CachedStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Flush forwards to the inner store when it supports flushing.
func (s *CachedStore) Flush() error {
	if f, ok := s.TileStore.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (s *CachedStore) Close() error {
	s.cache.Purge()
	return s.TileStore.Close()
}
