// Package coverage defines grid coverages, their sample dimensions and the
// Resource capability shared by every raster source.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

var (
	// ErrDisjointDomain is returned when a read produces no data at all.
	ErrDisjointDomain = errors.New("requested domain does not intersect the data")
	// ErrIncompatibleDimensions is returned when sample dimensions cannot be combined.
	ErrIncompatibleDimensions = errors.New("incompatible sample dimensions")
	// ErrReadOnly is returned by Write on resources that cannot be written.
	ErrReadOnly = errors.New("resource is read-only")
)

// DimensionError describes a sample dimension mismatch.
type DimensionError struct {
	Band        int
	Unit, Other string
	Bands       [2]int
}

func (e *DimensionError) Error() string {
	if e.Bands[0] != e.Bands[1] {
		return fmt.Sprintf("band count %d != %d", e.Bands[0], e.Bands[1])
	}
	return fmt.Sprintf("band %d: unit %q != %q", e.Band, e.Unit, e.Other)
}

func (e *DimensionError) Unwrap() error { return ErrIncompatibleDimensions }

// SampleDimension describes one band.
type SampleDimension struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty" cbor:"1,keyasint,omitempty"`
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty" cbor:"2,keyasint,omitempty"`
	Min  float64 `json:"min,omitempty" yaml:"min,omitempty" cbor:"3,keyasint,omitempty"`
	Max  float64 `json:"max,omitempty" yaml:"max,omitempty" cbor:"4,keyasint,omitempty"`
	// NoData lists the raw values meaning "no data". NaN is always nodata.
	NoData []float64 `json:"nodata,omitempty" yaml:"nodata,omitempty" cbor:"5,keyasint,omitempty"`
	Scale  float64   `json:"scale,omitempty" yaml:"scale,omitempty" cbor:"6,keyasint,omitempty"`
	Offset float64   `json:"offset,omitempty" yaml:"offset,omitempty" cbor:"7,keyasint,omitempty"`
}

// Fill returns the value written for missing pixels: the first nodata value,
// or NaN.
func (d SampleDimension) Fill() float64 {
	if len(d.NoData) > 0 {
		return d.NoData[0]
	}
	return math.NaN()
}

// IsNoData reports whether a raw value is nodata for this band.
func (d SampleDimension) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	for _, nd := range d.NoData {
		if v == nd {
			return true
		}
	}
	return false
}

// Physical converts a raw sample to its physical value.
func (d SampleDimension) Physical(raw float64) float64 {
	s := d.Scale
	if s == 0 {
		s = 1
	}
	return raw*s + d.Offset
}

// Fills returns the fill value of every dimension.
func Fills(dims []SampleDimension) []float64 {
	out := make([]float64, len(dims))
	for i, d := range dims {
		out[i] = d.Fill()
	}
	return out
}

// Select returns the dimensions of the given bands. Nil selects all.
func Select(dims []SampleDimension, bands []int) ([]SampleDimension, error) {
	if len(bands) == 0 {
		return dims, nil
	}
	out := make([]SampleDimension, len(bands))
	for i, b := range bands {
		if b < 0 || b >= len(dims) {
			return nil, fmt.Errorf("band %d out of range [0, %d)", b, len(dims))
		}
		out[i] = dims[b]
	}
	return out, nil
}

// Reconcile merges the sample dimensions of several resources. Band counts
// must match. An undefined unit is compatible with anything; two different
// defined units are an error. The first resource's nodata and naming win.
func Reconcile(sets ...[]SampleDimension) ([]SampleDimension, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make([]SampleDimension, len(sets[0]))
	copy(out, sets[0])
	for _, s := range sets[1:] {
		if len(s) != len(out) {
			return nil, &DimensionError{Bands: [2]int{len(out), len(s)}}
		}
		for i, d := range s {
			switch {
			case d.Unit == "" || d.Unit == out[i].Unit:
			case out[i].Unit == "":
				out[i].Unit = d.Unit
			default:
				return nil, &DimensionError{Band: i, Unit: out[i].Unit, Other: d.Unit, Bands: [2]int{len(out), len(s)}}
			}
			if len(out[i].NoData) == 0 {
				out[i].NoData = d.NoData
			}
		}
	}
	return out, nil
}

// GridCoverage is a raster with its geometry and band descriptions. The
// image rectangle equals the geometry extent.
type GridCoverage struct {
	Geometry grid.Geometry
	Dims     []SampleDimension
	Image    *raster.Image
}

// NoData returns the per-band primary nodata values.
func (c *GridCoverage) NoData() []float64 { return Fills(c.Dims) }

// Resource is a readable raster source.
type Resource interface {
	Identifier() string
	GridGeometry() grid.Geometry
	SampleDimensions() []SampleDimension
	// Read resamples the resource onto target. Pixels without data carry the
	// band fill value. Zero overlap returns ErrDisjointDomain.
	Read(ctx context.Context, target grid.Geometry, bands ...int) (*GridCoverage, error)
}

// WritableResource accepts partial updates.
type WritableResource interface {
	Resource
	Write(ctx context.Context, cov *GridCoverage, region grid.Geometry) error
}
