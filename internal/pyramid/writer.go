package pyramid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/events"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// writeBatch is the number of modified tiles handed to the store at once.
const writeBatch = 64

// Writer merges coverages into the tiles of every mosaic of a pyramid.
type Writer struct {
	store       TileStore
	pyramid     Pyramid
	interp      raster.Interpolation
	concurrency int
	notifier    events.Notifier
	log         zerolog.Logger
	metrics     *metrics.Provider
}

type WriterOption func(*Writer)

func WithInterpolation(i raster.Interpolation) WriterOption {
	return func(w *Writer) { w.interp = i }
}

// WithConcurrency sets how many mosaics are written in parallel.
func WithConcurrency(n int) WriterOption {
	return func(w *Writer) { w.concurrency = max(n, 1) }
}

func WithNotifier(n events.Notifier) WriterOption {
	return func(w *Writer) {
		if n != nil {
			w.notifier = n
		}
	}
}

func WithWriterLogger(l zerolog.Logger) WriterOption { return func(w *Writer) { w.log = l } }

func WithWriterMetrics(p *metrics.Provider) WriterOption { return func(w *Writer) { w.metrics = p } }

// NewWriter returns a writer for p.
func NewWriter(store TileStore, p Pyramid, opts ...WriterOption) *Writer {
	w := &Writer{
		store:       store,
		pyramid:     p,
		interp:      raster.Bilinear,
		concurrency: 1,
		notifier:    events.Nop{},
		log:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Write resamples cov into every mosaic. Only tile pixels whose center lies
// inside region's envelope and that received a valid sample are
// overwritten. A zero region writes the whole coverage.
func (w *Writer) Write(ctx context.Context, cov *coverage.GridCoverage, region grid.Geometry) error {
	if cov.Image.Bands != len(w.pyramid.Dims) {
		return fmt.Errorf("write to %s: %w", w.pyramid.ID,
			&coverage.DimensionError{Bands: [2]int{len(w.pyramid.Dims), cov.Image.Bands}})
	}
	if !region.HasExtent() {
		region = cov.Geometry
	}
	src := region.CRS()
	if src.IsZero() {
		src = cov.Geometry.CRS()
	}
	footprint, err := region.Envelope()
	if err != nil {
		return fmt.Errorf("write to %s: %w", w.pyramid.ID, err)
	}
	if footprint, err = coord.TransformBound(footprint, src, w.pyramid.CRS); err != nil {
		return fmt.Errorf("%w: write to %s: %w", ErrStorage, w.pyramid.ID, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, m := range w.pyramid.Mosaics {
		g.Go(func() error {
			return w.writeMosaic(ctx, m, cov, footprint)
		})
	}
	return g.Wait()
}

func (w *Writer) writeMosaic(ctx context.Context, m Mosaic, cov *coverage.GridCoverage, footprint orb.Bound) error {
	px := m.PixelRange(footprint)
	tiles := tilesInOrder(m.TileRange(px))
	if len(tiles) == 0 {
		return nil
	}
	mg := m.Geometry(w.pyramid.CRS)
	f, err := grid.GridToGrid(mg, cov.Geometry)
	if err != nil {
		return fmt.Errorf("%w: mosaic %s: %w", ErrStorage, m.ID, err)
	}
	rs := &raster.Resampler{
		Source:        cov.Image,
		Transform:     raster.PixelTransform(f),
		Interpolation: w.interp,
		Border:        raster.BorderFill,
		NoData:        cov.NoData(),
	}
	defer rs.Close()

	toCRS := m.GridToCRS()
	inside := func(x, y int) bool {
		cx, cy := toCRS.Apply(float64(x)+0.5, float64(y)+0.5)
		return cx >= footprint.Min[0] && cx < footprint.Max[0] &&
			cy >= footprint.Min[1] && cy < footprint.Max[1]
	}

	batch := make([]Tile, 0, writeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		t0 := time.Now()
		if err := w.store.WriteTiles(ctx, w.pyramid.ID, m.ID, slices.Values(batch)); err != nil {
			return fmt.Errorf("%w: write tiles %s/%s: %w", ErrStorage, w.pyramid.ID, m.ID, err)
		}
		w.metrics.ObserveStore("pyramid", "write", t0)
		now := time.Now().UTC()
		for _, t := range batch {
			w.metrics.TileWritten(w.pyramid.ID)
			w.notifier.TileWritten(ctx, events.TileEvent{
				Pyramid: w.pyramid.ID, Mosaic: m.ID, Col: t.Col, Row: t.Row, TS: now,
			})
		}
		batch = batch[:0]
		return nil
	}

	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := w.store.ReadTile(ctx, w.pyramid.ID, m.ID, t.X, t.Y)
		switch {
		case errors.Is(err, ErrTileNotFound):
			img = raster.NewFilled(m.LocalRect(), w.pyramid.Fills())
		case err != nil:
			return fmt.Errorf("%w: read tile %s/%s/%d/%d: %w", ErrStorage, w.pyramid.ID, m.ID, t.X, t.Y, err)
		}
		rect := m.TileRect(t.X, t.Y)
		img.Rect = rect
		changed := 0
		rs.Each(rect.Intersect(px), func(x, y int, v []float64, valid bool) {
			if valid && inside(x, y) {
				img.SetPixel(x, y, v)
				changed++
			}
		})
		if changed == 0 {
			continue
		}
		img.Rect = m.LocalRect()
		batch = append(batch, Tile{Col: t.X, Row: t.Y, Image: img})
		if len(batch) == writeBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	w.log.Debug().Str("pyramid", w.pyramid.ID).Str("mosaic", m.ID).Int("tiles", len(tiles)).Msg("mosaic written")
	return nil
}
