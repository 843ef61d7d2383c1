// Package aggregate combines several coverage resources into one logical
// resource. Reads fill an output canvas candidate by candidate, only where
// no earlier candidate produced data, and stop once every pixel is filled.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/index"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// ratioThreshold separates finer-or-equal candidates from coarser ones.
const ratioThreshold = 1.05

type member struct {
	priority int
	res      coverage.Resource
	env      orb.Bound // in the common CRS
}

// Resource is an immutable aggregation of member resources.
type Resource struct {
	id       string
	crs      coord.CRS
	mode     Mode
	interp   raster.Interpolation
	margin   int
	log      zerolog.Logger
	metrics  *metrics.Provider
	members  []*member
	index    *index.QuadTree[*member]
	envelope orb.Bound
	dims     []coverage.SampleDimension
	geometry grid.Geometry
}

// New builds an aggregate over members. Members must have the same band
// count and compatible units.
func New(members []coverage.Resource, opts ...Option) (*Resource, error) {
	if len(members) == 0 {
		return nil, errors.New("aggregate: no members")
	}
	r := &Resource{
		mode:   Order,
		interp: raster.Bilinear,
		margin: DefaultMargin,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.crs.IsZero() {
		r.crs = mostFrequentCRS(members)
	}

	dimSets := make([][]coverage.SampleDimension, len(members))
	finest := math.Inf(1)
	for i, m := range members {
		g := m.GridGeometry()
		env, err := g.Envelope()
		if err != nil {
			return nil, fmt.Errorf("aggregate member %s: %w", m.Identifier(), err)
		}
		if g.CRS() != r.crs {
			if env, err = coord.TransformBound(env, g.CRS(), r.crs); err != nil {
				return nil, fmt.Errorf("aggregate member %s: %w", m.Identifier(), err)
			}
			if g, err = g.Reproject(r.crs); err != nil {
				return nil, fmt.Errorf("aggregate member %s: %w", m.Identifier(), err)
			}
		}
		if res, err := g.Resolution(); err == nil {
			finest = math.Min(finest, math.Min(res[0], res[1]))
		}
		if i == 0 {
			r.envelope = env
		} else {
			r.envelope = r.envelope.Union(env)
		}
		r.members = append(r.members, &member{priority: i, res: m, env: env})
		dimSets[i] = m.SampleDimensions()
	}

	dims, err := coverage.Reconcile(dimSets...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", r.id, err)
	}
	r.dims = dims

	if math.IsInf(finest, 1) || finest <= 0 {
		return nil, fmt.Errorf("aggregate %s: no member resolution: %w", r.id, grid.ErrIncompleteGeometry)
	}
	if r.geometry, err = grid.FromEnvelope(r.envelope, finest, finest, r.crs); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", r.id, err)
	}

	r.index = index.New[*member](r.envelope)
	for _, m := range r.members {
		r.index.Insert(m.env, m)
	}
	return r, nil
}

// mostFrequentCRS returns the CRS shared by most members, the first one
// winning ties.
func mostFrequentCRS(members []coverage.Resource) coord.CRS {
	counts := make(map[coord.CRS]int)
	var best coord.CRS
	for _, m := range members {
		c := m.GridGeometry().CRS()
		counts[c]++
		if best.IsZero() || counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func (r *Resource) Identifier() string                           { return r.id }
func (r *Resource) GridGeometry() grid.Geometry                  { return r.geometry }
func (r *Resource) SampleDimensions() []coverage.SampleDimension { return r.dims }

// CRS returns the common CRS.
func (r *Resource) CRS() coord.CRS { return r.crs }

// Envelope returns the union of member envelopes in the common CRS.
func (r *Resource) Envelope() orb.Bound { return r.envelope }

// Members returns the member resources in construction order.
func (r *Resource) Members() []coverage.Resource {
	out := make([]coverage.Resource, len(r.members))
	for i, m := range r.members {
		out[i] = m.res
	}
	return out
}

// candidates returns the members intersecting env, ordered by priority.
func (r *Resource) candidates(env orb.Bound) []*member {
	found := r.index.Query(env)
	out := found[:0]
	for _, m := range found {
		if coverage.Intersects(m.env, env) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b *member) int { return a.priority - b.priority })
	return out
}

// Read fills target from the members. See the package documentation.
func (r *Resource) Read(ctx context.Context, target grid.Geometry, bands ...int) (*coverage.GridCoverage, error) {
	ext, err := target.Extent()
	if err != nil {
		return nil, err
	}
	env, err := target.Envelope()
	if err != nil {
		return nil, err
	}
	if tc := target.CRS(); tc != r.crs && !tc.IsZero() {
		if env, err = coord.TransformBound(env, tc, r.crs); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", r.id, err)
		}
	}
	cands := r.candidates(env)
	if len(cands) == 0 {
		return nil, fmt.Errorf("aggregate %s: %w", r.id, coverage.ErrDisjointDomain)
	}
	dims, err := coverage.Select(r.dims, bands)
	if err != nil {
		return nil, err
	}
	r.metrics.AggregateRead()
	if len(cands) == 1 {
		r.metrics.Candidate("used")
		cov, err := cands[0].res.Read(ctx, target, bands...)
		if err != nil {
			return nil, err
		}
		return &coverage.GridCoverage{Geometry: cov.Geometry, Dims: dims, Image: cov.Image}, nil
	}
	if r.mode == Scale {
		cands = r.orderByScale(cands, target)
	}

	out := raster.NewFilled(ext, coverage.Fills(dims))
	mask := raster.NewMask(ext)

	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unfilled := mask.UnfilledBounds()
		if unfilled.Empty() {
			for range cands[i:] {
				r.metrics.Candidate("short_circuit")
			}
			r.log.Debug().Str("aggregate", r.id).Int("skipped", len(cands)-i).Msg("canvas full")
			break
		}
		n, err := r.fill(ctx, c, target, unfilled, out, mask, bands)
		if errors.Is(err, coverage.ErrDisjointDomain) || errors.Is(err, grid.ErrDisjointExtent) {
			r.metrics.Candidate("disjoint")
			r.log.Debug().Str("aggregate", r.id).Str("member", c.res.Identifier()).Msg("candidate disjoint")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: member %s: %w", r.id, c.res.Identifier(), err)
		}
		r.metrics.Candidate("used")
		r.log.Debug().Str("aggregate", r.id).Str("member", c.res.Identifier()).
			Int("filled", n).Int("total", mask.Count()).Msg("candidate merged")
	}
	if mask.Count() == 0 {
		return nil, fmt.Errorf("aggregate %s: %w", r.id, coverage.ErrDisjointDomain)
	}
	return &coverage.GridCoverage{Geometry: target, Dims: dims, Image: out}, nil
}

// fill reads candidate c around the unfilled region and merges its valid
// pixels into out. It returns the number of newly filled pixels.
func (r *Resource) fill(ctx context.Context, c *member, target grid.Geometry, unfilled image.Rectangle,
	out *raster.Image, mask *raster.Mask, bands []int) (int, error) {
	cg := c.res.GridGeometry()
	env := target.RectEnvelope(unfilled)
	if tc := target.CRS(); tc != cg.CRS() && !tc.IsZero() && !cg.CRS().IsZero() {
		var err error
		if env, err = coord.TransformBound(env, tc, cg.CRS()); err != nil {
			return 0, err
		}
	}
	region, err := cg.Derive().Subgrid(env).Margin(r.margin, r.margin).Build()
	if err != nil {
		return 0, err
	}
	cov, err := c.res.Read(ctx, region, bands...)
	if err != nil {
		return 0, err
	}
	f, err := grid.GridToGrid(target, cov.Geometry)
	if err != nil {
		return 0, err
	}
	rs := &raster.Resampler{
		Source:        cov.Image,
		Transform:     raster.PixelTransform(f),
		Interpolation: r.interp,
		Border:        raster.BorderFill,
		NoData:        cov.NoData(),
	}
	defer rs.Close()
	n := 0
	rs.Each(unfilled, func(x, y int, px []float64, valid bool) {
		if !valid || mask.IsSet(x, y) {
			return
		}
		out.SetPixel(x, y, px)
		mask.Set(x, y)
		n++
	})
	return n, nil
}
