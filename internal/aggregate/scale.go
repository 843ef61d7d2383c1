package aggregate

import (
	"math"
	"slices"

	"github.com/pspoerri/rasterpyramid/internal/grid"
)

// Skip reasons reported by estimateRatio.
const (
	skipNone      = ""
	skipGeometry  = "incomplete geometry"
	skipTransform = "transform failed"
)

// estimate is the outcome of comparing a candidate's resolution to the
// request. A non-empty skip means the ratio could not be computed.
type estimate struct {
	ratio float64
	skip  string
}

// estimateRatio maps a unit diagonal of the candidate grid into the target
// grid. The ratio is the mapped length divided by √2: 1 means equal
// resolution, below 1 a finer candidate.
func estimateRatio(cand, target grid.Geometry) estimate {
	toCand, err := grid.GridToGrid(target, cand)
	if err != nil {
		return estimate{skip: skipGeometry}
	}
	toTarget, err := grid.GridToGrid(cand, target)
	if err != nil {
		return estimate{skip: skipGeometry}
	}
	ext := target.Bounds()
	cx := float64(ext.Min.X+ext.Max.X) / 2
	cy := float64(ext.Min.Y+ext.Max.Y) / 2
	px, py, ok := toCand(cx, cy)
	if !ok {
		return estimate{skip: skipTransform}
	}
	x0, y0, ok0 := toTarget(px, py)
	x1, y1, ok1 := toTarget(px+1, py+1)
	if !ok0 || !ok1 {
		return estimate{skip: skipTransform}
	}
	r := math.Hypot(x1-x0, y1-y0) / math.Sqrt2
	if math.IsNaN(r) || math.IsInf(r, 0) || r == 0 {
		return estimate{skip: skipTransform}
	}
	return estimate{ratio: r}
}

// orderByScale sorts candidates so that those at or finer than the request
// come first, closest to the requested resolution first, followed by the
// coarser ones from finest to coarsest. Candidates whose ratio cannot be
// estimated are dropped. Ties keep member order.
func (r *Resource) orderByScale(cands []*member, target grid.Geometry) []*member {
	type keyed struct {
		m      *member
		coarse bool
		key    float64
	}
	ks := make([]keyed, 0, len(cands))
	for _, c := range cands {
		e := estimateRatio(c.res.GridGeometry(), target)
		if e.skip != skipNone {
			r.metrics.Candidate("skipped")
			r.log.Debug().Str("aggregate", r.id).Str("member", c.res.Identifier()).
				Str("reason", e.skip).Msg("candidate skipped")
			continue
		}
		if e.ratio <= ratioThreshold {
			ks = append(ks, keyed{m: c, key: ratioThreshold - e.ratio})
		} else {
			ks = append(ks, keyed{m: c, coarse: true, key: e.ratio})
		}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		if a.coarse != b.coarse {
			if a.coarse {
				return 1
			}
			return -1
		}
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	out := make([]*member, len(ks))
	for i, k := range ks {
		out[i] = k.m
	}
	return out
}
