package coord

// SwissLV95 projects EPSG:2056 (CH1903+ / LV95) with swisstopo's approximate
// polynomials, good to about one meter inside Switzerland.
type SwissLV95 struct{}

// Bern reference point of the LV95 grid.
const (
	lv95FalseEasting  = 2_600_000.0
	lv95FalseNorthing = 1_200_000.0
	bernLatSec        = 169_028.66
	bernLonSec        = 26_782.5
)

func (s *SwissLV95) EPSG() int { return 2056 }

func (s *SwissLV95) ToWGS84(easting, northing float64) (lon, lat float64) {
	// Offsets from Bern in units of 1000 km.
	e := (easting - lv95FalseEasting) / 1e6
	n := (northing - lv95FalseNorthing) / 1e6

	// Results are in units of 10000 arc seconds.
	lon10k := 2.6779094 + e*(4.728982+0.791484*n+0.1306*n*n-0.0436*e*e)
	lat10k := 16.9023892 + 3.238272*n - 0.270978*e*e - 0.002528*n*n -
		0.0447*e*e*n - 0.0140*n*n*n

	return lon10k * 100 / 36, lat10k * 100 / 36
}

func (s *SwissLV95) FromWGS84(lon, lat float64) (easting, northing float64) {
	// Offsets from Bern in units of 10000 arc seconds.
	p := (lat*3600 - bernLatSec) / 1e4
	l := (lon*3600 - bernLonSec) / 1e4

	easting = 2_600_072.37 + l*(211_455.93-10_938.51*p-0.36*p*p-44.54*l*l)
	northing = 1_200_147.07 + 308_807.95*p + 3_745.25*l*l + 76.63*p*p -
		194.56*l*l*p + 119.79*p*p*p
	return easting, northing
}
