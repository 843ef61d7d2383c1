// Package geotiff reads single-image GeoTIFF files as coverage resources and
// writes coverages as float32 GeoTIFFs.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

// ErrUnsupported is returned for TIFF layouts this package cannot decode.
var ErrUnsupported = errors.New("unsupported tiff")

const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
	planarChunky           = 1
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
	photometricMinIsBlack  = 1
)

// ifd holds the tags of the first image directory.
type ifd struct {
	ImageWidth                uint64   `tiff:"field,tag=256"`
	ImageLength               uint64   `tiff:"field,tag=257"`
	BitsPerSample             []uint16 `tiff:"field,tag=258"`
	Compression               uint16   `tiff:"field,tag=259"`
	PhotometricInterpretation uint16   `tiff:"field,tag=262"`
	StripOffsets              []uint64 `tiff:"field,tag=273"`
	SamplesPerPixel           uint16   `tiff:"field,tag=277"`
	RowsPerStrip              uint64   `tiff:"field,tag=278"`
	StripByteCounts           []uint64 `tiff:"field,tag=279"`
	PlanarConfiguration       uint16   `tiff:"field,tag=284"`
	Predictor                 uint16   `tiff:"field,tag=317"`
	TileWidth                 uint16   `tiff:"field,tag=322"`
	TileLength                uint16   `tiff:"field,tag=323"`
	TileOffsets               []uint64 `tiff:"field,tag=324"`
	TileByteCounts            []uint64 `tiff:"field,tag=325"`
	SampleFormat              []uint16 `tiff:"field,tag=339"`

	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoAsciiParamsTag      string    `tiff:"field,tag=34737"`
	NoData                 string    `tiff:"field,tag=42113"`
}

// parse reads the first IFD of a TIFF held in memory.
func parse(data []byte) (*ifd, binary.ByteOrder, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("%w: file too short", ErrUnsupported)
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: byte order %q", ErrUnsupported, data[:2])
	}
	tif, err := tiff.Parse(bytes.NewReader(data), nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tiff: %w", err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return nil, nil, fmt.Errorf("%w: no image directory", ErrUnsupported)
	}
	var d ifd
	if err := tiff.UnmarshalIFD(ifds[0], &d); err != nil {
		return nil, nil, fmt.Errorf("unmarshal ifd: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, nil, err
	}
	return &d, bo, nil
}

func (d *ifd) validate() error {
	if d.ImageWidth == 0 || d.ImageLength == 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrUnsupported, d.ImageWidth, d.ImageLength)
	}
	if d.SamplesPerPixel == 0 {
		d.SamplesPerPixel = 1
	}
	if d.PlanarConfiguration != 0 && d.PlanarConfiguration != planarChunky && d.SamplesPerPixel > 1 {
		return fmt.Errorf("%w: planar configuration %d", ErrUnsupported, d.PlanarConfiguration)
	}
	bits := d.bits()
	for _, b := range d.BitsPerSample {
		if int(b) != bits {
			return fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, d.BitsPerSample)
		}
	}
	switch d.format() {
	case sampleFormatUint, sampleFormatInt:
		if bits != 8 && bits != 16 && bits != 32 {
			return fmt.Errorf("%w: %d-bit integers", ErrUnsupported, bits)
		}
	case sampleFormatFloat:
		if bits != 32 && bits != 64 {
			return fmt.Errorf("%w: %d-bit floats", ErrUnsupported, bits)
		}
	default:
		return fmt.Errorf("%w: sample format %d", ErrUnsupported, d.format())
	}
	switch d.Compression {
	case 0, compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupported, d.Compression)
	}
	offsets, counts := d.chunks()
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("%w: %d chunk offsets for %d byte counts", ErrUnsupported, len(offsets), len(counts))
	}
	if want := d.chunksAcross() * d.chunksDown(); len(offsets) < want {
		return fmt.Errorf("%w: %d chunks, want %d", ErrUnsupported, len(offsets), want)
	}
	return nil
}

func (d *ifd) bits() int {
	if len(d.BitsPerSample) == 0 {
		return 1
	}
	return int(d.BitsPerSample[0])
}

func (d *ifd) format() int {
	if len(d.SampleFormat) == 0 {
		return sampleFormatUint
	}
	return int(d.SampleFormat[0])
}

func (d *ifd) tiled() bool { return d.TileWidth > 0 && d.TileLength > 0 }

// chunkSize returns the pixel size of one tile or strip.
func (d *ifd) chunkSize() (w, h int) {
	if d.tiled() {
		return int(d.TileWidth), int(d.TileLength)
	}
	rows := int(d.RowsPerStrip)
	if rows == 0 || rows > int(d.ImageLength) {
		rows = int(d.ImageLength)
	}
	return int(d.ImageWidth), rows
}

func (d *ifd) chunksAcross() int {
	w, _ := d.chunkSize()
	return (int(d.ImageWidth) + w - 1) / w
}

func (d *ifd) chunksDown() int {
	_, h := d.chunkSize()
	return (int(d.ImageLength) + h - 1) / h
}

func (d *ifd) chunks() (offsets, counts []uint64) {
	if d.tiled() {
		return d.TileOffsets, d.TileByteCounts
	}
	return d.StripOffsets, d.StripByteCounts
}

// nodata parses the GDAL_NODATA tag.
func (d *ifd) nodata() (float64, bool) {
	s := strings.TrimRight(d.NoData, "\x00 ")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatNoData(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
