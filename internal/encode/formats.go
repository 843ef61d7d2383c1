package encode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
)

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PNGEncoder encodes images as PNG.
type PNGEncoder struct{}

func (*PNGEncoder) Encode(img image.Image) ([]byte, error) { return encodePNG(img) }
func (*PNGEncoder) Format() string                         { return "png" }
func (*PNGEncoder) ContentType() string                    { return "image/png" }
func (*PNGEncoder) FileExtension() string                  { return ".png" }

// JPEGEncoder encodes images as JPEG. Transparency is lost.
type JPEGEncoder struct {
	Quality int // 1-100, default 85
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	q := e.Quality
	if q <= 0 {
		q = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: min(q, 100)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (*JPEGEncoder) Format() string        { return "jpeg" }
func (*JPEGEncoder) ContentType() string   { return "image/jpeg" }
func (*JPEGEncoder) FileExtension() string { return ".jpg" }

// TerrariumEncoder writes images whose RGB already holds Terrarium
// elevations (see Render) as PNG.
type TerrariumEncoder struct{}

func (*TerrariumEncoder) Encode(img image.Image) ([]byte, error) { return encodePNG(img) }
func (*TerrariumEncoder) Format() string                         { return "terrarium" }
func (*TerrariumEncoder) ContentType() string                    { return "image/png" }
func (*TerrariumEncoder) FileExtension() string                  { return ".png" }

// terrariumOffset shifts elevations so that R*256 + G + B/256 is never
// negative.
const terrariumOffset = 32768

// ElevationToTerrarium packs an elevation in metres into RGB with a
// resolution of 1/256 m. Values outside [-32768, 32768) are clamped; NaN and
// infinities become transparent.
func ElevationToTerrarium(elevation float64) color.RGBA {
	if math.IsNaN(elevation) || math.IsInf(elevation, 0) {
		return color.RGBA{}
	}
	// Fixed point with 8 fractional bits.
	v := math.Floor((elevation + terrariumOffset) * 256)
	v = math.Max(0, math.Min(v, 1<<24-1))
	n := uint32(v)
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}
}

// TerrariumToElevation reverses ElevationToTerrarium. Transparent pixels
// yield NaN.
func TerrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256 + float64(c.G) + float64(c.B)/256 - terrariumOffset
}
