package pyramid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// Resource exposes a stored pyramid as a writable coverage resource.
type Resource struct {
	store   TileStore
	interp  raster.Interpolation
	log     zerolog.Logger
	metrics *metrics.Provider
	wopts   []WriterOption

	mu      sync.RWMutex
	pyramid Pyramid
}

type ResourceOption func(*Resource)

func WithReadInterpolation(i raster.Interpolation) ResourceOption {
	return func(r *Resource) { r.interp = i }
}

func WithResourceLogger(l zerolog.Logger) ResourceOption {
	return func(r *Resource) { r.log = l }
}

func WithResourceMetrics(p *metrics.Provider) ResourceOption {
	return func(r *Resource) { r.metrics = p }
}

// WithWriterOptions sets the options used by Write.
func WithWriterOptions(opts ...WriterOption) ResourceOption {
	return func(r *Resource) { r.wopts = append(r.wopts, opts...) }
}

// Open loads pyramid id from store.
func Open(ctx context.Context, store TileStore, id string, opts ...ResourceOption) (*Resource, error) {
	p, err := store.Pyramid(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &Resource{store: store, pyramid: p, interp: raster.Bilinear, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Pyramid returns the current pyramid definition.
func (r *Resource) Pyramid() Pyramid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pyramid
}

func (r *Resource) Identifier() string { return r.Pyramid().ID }

func (r *Resource) SampleDimensions() []coverage.SampleDimension { return r.Pyramid().Dims }

// GridGeometry returns the grid of the finest mosaic.
func (r *Resource) GridGeometry() grid.Geometry {
	p := r.Pyramid()
	m, ok := p.Finest()
	if !ok {
		return grid.Geometry{}
	}
	return m.Geometry(p.CRS)
}

// CreateMosaic adds a resolution level to the pyramid.
func (r *Resource) CreateMosaic(ctx context.Context, m Mosaic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.CreateMosaic(ctx, r.pyramid.ID, m); err != nil {
		return err
	}
	p, err := r.store.Pyramid(ctx, r.pyramid.ID)
	if err != nil {
		return err
	}
	r.pyramid = p
	return nil
}

// Write merges cov into every mosaic.
func (r *Resource) Write(ctx context.Context, cov *coverage.GridCoverage, region grid.Geometry) error {
	opts := append([]WriterOption{
		WithInterpolation(r.interp),
		WithWriterLogger(r.log),
		WithWriterMetrics(r.metrics),
	}, r.wopts...)
	return NewWriter(r.store, r.Pyramid(), opts...).Write(ctx, cov, region)
}

// Read resamples the pyramid onto target using the mosaic whose resolution
// best matches it. Missing tiles read as nodata. When the preferred mosaic
// holds no data for the area, the remaining mosaics are tried finest first.
func (r *Resource) Read(ctx context.Context, target grid.Geometry, bands ...int) (*coverage.GridCoverage, error) {
	p := r.Pyramid()
	ext, err := target.Extent()
	if err != nil {
		return nil, err
	}
	dims, err := coverage.Select(p.Dims, bands)
	if err != nil {
		return nil, err
	}
	env, err := target.Envelope()
	if err != nil {
		return nil, err
	}
	want := math.Inf(1)
	if tc := target.CRS(); tc != p.CRS && !tc.IsZero() {
		if env, err = coord.TransformBound(env, tc, p.CRS); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrStorage, p.ID, err)
		}
		if ext.Dx() > 0 && ext.Dy() > 0 {
			want = math.Min((env.Max[0]-env.Min[0])/float64(ext.Dx()), (env.Max[1]-env.Min[1])/float64(ext.Dy()))
		}
	} else if res, err := target.Resolution(); err == nil {
		want = math.Min(res[0], res[1])
	}

	for _, m := range mosaicOrder(p.Mosaics, want) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		canvas, n, err := r.gather(ctx, p, m, env)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		f, err := grid.GridToGrid(target, m.Geometry(p.CRS))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrStorage, p.ID, err)
		}
		rs := &raster.Resampler{
			Source:        canvas,
			Transform:     raster.PixelTransform(f),
			Interpolation: r.interp,
			Border:        raster.BorderFill,
			NoData:        p.Fills(),
			Bands:         bands,
		}
		out := raster.NewImage(ext, len(dims))
		filled := 0
		rs.Each(ext, func(x, y int, px []float64, valid bool) {
			out.SetPixel(x, y, px)
			if valid {
				filled++
			}
		})
		rs.Close()
		if filled == 0 {
			continue
		}
		r.log.Debug().Str("pyramid", p.ID).Str("mosaic", m.ID).Int("tiles", n).Int("filled", filled).Msg("read")
		return &coverage.GridCoverage{Geometry: target, Dims: dims, Image: out}, nil
	}
	return nil, fmt.Errorf("read %s: %w", p.ID, coverage.ErrDisjointDomain)
}

// mosaicOrder puts the coarsest mosaic that is still at least as fine as
// want first, then the others finest first.
func mosaicOrder(ms []Mosaic, want float64) []Mosaic {
	sorted := slices.Clone(ms)
	slices.SortStableFunc(sorted, func(a, b Mosaic) int { return cmpFloat(pixelSize(a), pixelSize(b)) })
	best := -1
	for i, m := range sorted {
		if pixelSize(m) <= want*(1+1e-6) {
			best = i
		}
	}
	if best <= 0 {
		return sorted
	}
	out := make([]Mosaic, 0, len(sorted))
	out = append(out, sorted[best])
	out = append(out, sorted[:best]...)
	return append(out, sorted[best+1:]...)
}

// gather assembles the stored tiles around env into one canvas in mosaic
// pixel coordinates. It returns the number of tiles found.
func (r *Resource) gather(ctx context.Context, p Pyramid, m Mosaic, env orb.Bound) (*raster.Image, int, error) {
	px := m.PixelRange(env)
	if px.Empty() {
		return nil, 0, nil
	}
	pad := r.interp.Margin() + 1
	px = image.Rect(px.Min.X-pad, px.Min.Y-pad, px.Max.X+pad, px.Max.Y+pad).Intersect(m.Bounds())
	tr := m.TileRange(px)
	canvas := raster.NewFilled(px, p.Fills())
	n := 0
	for row := tr.Min.Y; row < tr.Max.Y; row++ {
		for col := tr.Min.X; col < tr.Max.X; col++ {
			t0 := time.Now()
			img, err := r.store.ReadTile(ctx, p.ID, m.ID, col, row)
			r.metrics.ObserveStore("pyramid", "read", t0)
			if errors.Is(err, ErrTileNotFound) {
				r.metrics.TileRead(false)
				continue
			}
			if err != nil {
				return nil, 0, fmt.Errorf("%w: read tile %s/%s/%d/%d: %w", ErrStorage, p.ID, m.ID, col, row, err)
			}
			r.metrics.TileRead(true)
			img.Rect = m.TileRect(col, row)
			canvas.Draw(img)
			n++
		}
	}
	return canvas, n, nil
}

// Create stores a new pyramid and opens it.
func Create(ctx context.Context, store TileStore, p Pyramid, opts ...ResourceOption) (*Resource, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := store.CreatePyramid(ctx, p); err != nil {
		return nil, err
	}
	return Open(ctx, store, p.ID, opts...)
}
