package coord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedCRS is returned for EPSG codes without a built-in projection.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

// AxisOrder describes the order of the two horizontal axes of a CRS.
type AxisOrder uint8

const (
	// EastNorth: first ordinate is easting or longitude.
	EastNorth AxisOrder = iota
	// NorthEast: first ordinate is northing or latitude (EPSG authority
	// order for geographic CRSs such as EPSG:4326).
	NorthEast
)

// CRS identifies a coordinate reference system by EPSG code and axis order.
type CRS struct {
	EPSG  int
	Order AxisOrder
}

var (
	// CRS84 is WGS84 in longitude/latitude order.
	CRS84 = CRS{EPSG: 4326, Order: EastNorth}
	// EPSG4326 is WGS84 in the authority latitude/longitude order.
	EPSG4326 = CRS{EPSG: 4326, Order: NorthEast}
	// WebMercator is EPSG:3857.
	WebMercator = CRS{EPSG: 3857, Order: EastNorth}
	// LV95 is the Swiss EPSG:2056 CH1903+ grid.
	LV95 = CRS{EPSG: 2056, Order: EastNorth}
)

// IsZero reports whether c is the zero (undefined) CRS.
func (c CRS) IsZero() bool { return c.EPSG == 0 }

// Normalized returns c with east/north axis order.
func (c CRS) Normalized() CRS {
	return CRS{EPSG: c.EPSG, Order: EastNorth}
}

// Flipped reports whether the first axis is northing.
func (c CRS) Flipped() bool { return c.Order == NorthEast }

func (c CRS) String() string {
	switch {
	case c.IsZero():
		return "undefined"
	case c == CRS84:
		return "CRS:84"
	case c.Order == NorthEast:
		return "EPSG:" + strconv.Itoa(c.EPSG)
	case c.EPSG == 4326:
		return "CRS:84"
	default:
		return "EPSG:" + strconv.Itoa(c.EPSG)
	}
}

// ParseCRS parses "EPSG:<code>", "CRS:84" or "OGC:CRS84". Geographic
// EPSG:4326 uses the authority latitude/longitude order; everything else is
// east/north.
func ParseCRS(s string) (CRS, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "CRS:84", "CRS84", "OGC:CRS84":
		return CRS84, nil
	}
	code, ok := strings.CutPrefix(v, "EPSG:")
	if !ok {
		return CRS{}, fmt.Errorf("parse crs %q: expected EPSG:<code> or CRS:84", s)
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return CRS{}, fmt.Errorf("parse crs %q: invalid code", s)
	}
	c := CRS{EPSG: n}
	if n == 4326 {
		c.Order = NorthEast
	}
	if ForEPSG(n) == nil {
		return c, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, n)
	}
	return c, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c CRS) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CRS) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = CRS{}
		return nil
	}
	v, err := ParseCRS(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
