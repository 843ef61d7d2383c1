package aggregate

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// DefaultMargin is the number of source pixels read around each candidate
// region so that interpolation kernels have support at the edges.
const DefaultMargin = 5

// Mode selects how candidates are ordered.
type Mode int

const (
	// Order tries members in construction order; the first one wins.
	Order Mode = iota
	// Scale tries members whose resolution best matches the request first.
	Scale
)

func (m Mode) String() string {
	if m == Scale {
		return "scale"
	}
	return "order"
}

// ParseMode converts "order" or "scale" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "order", "":
		return Order, nil
	case "scale":
		return Scale, nil
	default:
		return 0, fmt.Errorf("unknown aggregation mode %q (valid: order, scale)", s)
	}
}

type Option func(*Resource)

// WithCRS sets the common CRS. By default the most frequent member CRS is used.
func WithCRS(c coord.CRS) Option { return func(r *Resource) { r.crs = c } }

func WithMode(m Mode) Option { return func(r *Resource) { r.mode = m } }

func WithInterpolation(i raster.Interpolation) Option {
	return func(r *Resource) { r.interp = i }
}

// WithMargin sets the number of extra source pixels read around each region.
func WithMargin(n int) Option { return func(r *Resource) { r.margin = max(n, 0) } }

func WithLogger(l zerolog.Logger) Option { return func(r *Resource) { r.log = l } }

func WithMetrics(p *metrics.Provider) Option { return func(r *Resource) { r.metrics = p } }

// WithID sets the identifier. By default a random UUID is used.
func WithID(id string) Option { return func(r *Resource) { r.id = id } }
