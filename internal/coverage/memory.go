package coverage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// MemoryResource serves a single in-memory coverage.
type MemoryResource struct {
	id            string
	cov           *GridCoverage
	interpolation raster.Interpolation
}

// NewMemoryResource wraps cov. An empty id is replaced by a random one.
func NewMemoryResource(id string, cov *GridCoverage) (*MemoryResource, error) {
	ext, err := cov.Geometry.Extent()
	if err != nil {
		return nil, err
	}
	if cov.Image == nil || cov.Image.Rect != ext {
		return nil, fmt.Errorf("memory resource: image does not match extent %v", ext)
	}
	if len(cov.Dims) != cov.Image.Bands {
		return nil, fmt.Errorf("memory resource: %d dims for %d bands", len(cov.Dims), cov.Image.Bands)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &MemoryResource{id: id, cov: cov, interpolation: raster.Bilinear}, nil
}

// SetInterpolation selects the kernel used by Read.
func (m *MemoryResource) SetInterpolation(i raster.Interpolation) { m.interpolation = i }

func (m *MemoryResource) Identifier() string                  { return m.id }
func (m *MemoryResource) GridGeometry() grid.Geometry         { return m.cov.Geometry }
func (m *MemoryResource) SampleDimensions() []SampleDimension { return m.cov.Dims }

// Coverage returns the wrapped coverage.
func (m *MemoryResource) Coverage() *GridCoverage { return m.cov }

func (m *MemoryResource) Read(ctx context.Context, target grid.Geometry, bands ...int) (*GridCoverage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ResampleCoverage(m.cov, target, m.interpolation, bands...)
}

// ResampleCoverage resamples src onto target. Target pixels outside src get
// the band fill value. ErrDisjointDomain is returned when no target pixel
// receives data.
func ResampleCoverage(src *GridCoverage, target grid.Geometry, interp raster.Interpolation, bands ...int) (*GridCoverage, error) {
	ext, err := target.Extent()
	if err != nil {
		return nil, err
	}
	if err := overlaps(src.Geometry, target); err != nil {
		return nil, err
	}
	dims, err := Select(src.Dims, bands)
	if err != nil {
		return nil, err
	}
	f, err := grid.GridToGrid(target, src.Geometry)
	if err != nil {
		return nil, err
	}
	rs := &raster.Resampler{
		Source:        src.Image,
		Transform:     raster.PixelTransform(f),
		Interpolation: interp,
		NoData:        src.NoData(),
		Bands:         bands,
	}
	defer rs.Close()
	out := raster.NewImage(ext, len(dims))
	filled := 0
	rs.Each(ext, func(x, y int, px []float64, valid bool) {
		out.SetPixel(x, y, px)
		if valid {
			filled++
		}
	})
	if filled == 0 {
		return nil, fmt.Errorf("resample %s onto %s: %w", src.Geometry, target, ErrDisjointDomain)
	}
	return &GridCoverage{Geometry: target, Dims: dims, Image: out}, nil
}

// overlaps fails with ErrDisjointDomain when the envelopes of a and b do not
// intersect. Geometries in different CRSs are compared after reprojection.
func overlaps(a, b grid.Geometry) error {
	ea, err := a.Envelope()
	if err != nil {
		return err
	}
	eb, err := b.Envelope()
	if err != nil {
		return err
	}
	if a.CRS() != b.CRS() && !a.CRS().IsZero() && !b.CRS().IsZero() {
		r, err := b.Reproject(a.CRS())
		if err != nil {
			return err
		}
		eb, _ = r.Envelope()
	}
	if !Intersects(ea, eb) {
		return fmt.Errorf("%v and %v: %w", ea, eb, ErrDisjointDomain)
	}
	return nil
}

// Intersects reports whether two bounds share interior area.
func Intersects(a, b orb.Bound) bool {
	return a.Min[0] < b.Max[0] && b.Min[0] < a.Max[0] &&
		a.Min[1] < b.Max[1] && b.Min[1] < a.Max[1]
}
