// Package tilestore provides pyramid.TileStore backends: in memory, on local
// disk, in Redis, and an LRU cache that wraps any of them.
package tilestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// Compression identifies how tile samples are compressed. The values are
// stored in tile headers and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd". The empty string selects
// zstd.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

const codecVersion = 1

// header precedes the sample payload of every encoded tile.
type header struct {
	Version     int         `cbor:"1,keyasint"`
	Width       int         `cbor:"2,keyasint"`
	Height      int         `cbor:"3,keyasint"`
	Bands       int         `cbor:"4,keyasint"`
	Compression Compression `cbor:"5,keyasint"`
	SampleBits  int         `cbor:"6,keyasint"`
	Length      int         `cbor:"7,keyasint"`
}

type envelope struct {
	Header header `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("tilestore: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}.DecMode()
	if err != nil {
		panic("tilestore: cbor decoder: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("tilestore: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("tilestore: zstd decoder: " + err.Error())
	}
}

// marshal and unmarshal are shared by the manifest and index files.
func marshal(v any) ([]byte, error) { return encMode.Marshal(v) }
func unmarshal(b []byte, v any) error { return decMode.Unmarshal(b, v) }

// ErrCorruptTile is returned when an encoded tile cannot be decoded.
var ErrCorruptTile = errors.New("corrupt tile")

// Codec converts tiles to bytes and back. SampleBits is 32 or 64; float32
// samples halve storage at the cost of precision.
type Codec struct {
	Compression Compression
	SampleBits  int
}

// DefaultCodec stores float32 samples compressed with zstd.
var DefaultCodec = Codec{Compression: CompressionZstd, SampleBits: 32}

func (c Codec) bits() int {
	if c.SampleBits == 64 {
		return 64
	}
	return 32
}

// Encode serializes img. The image origin is not stored; Decode always
// returns a tile anchored at (0, 0).
func (c Codec) Encode(img *raster.Image) ([]byte, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	bits := c.bits()
	raw := make([]byte, 0, w*h*img.Bands*bits/8)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		off := img.PixOffset(img.Rect.Min.X, y)
		for _, v := range img.Pix[off : off+w*img.Bands] {
			if bits == 64 {
				raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
			} else {
				raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(float32(v)))
			}
		}
	}

	hdr := header{
		Version:     codecVersion,
		Width:       w,
		Height:      h,
		Bands:       img.Bands,
		Compression: c.Compression,
		SampleBits:  bits,
		Length:      len(raw),
	}
	data, err := compress(raw, c.Compression)
	if errors.Is(err, errIncompressible) {
		hdr.Compression, data, err = CompressionNone, raw, nil
	}
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(envelope{Header: hdr, Data: data})
}

// Decode parses bytes produced by Encode.
func (c Codec) Decode(b []byte) (*raster.Image, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}
	hdr := env.Header
	if hdr.Version != codecVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptTile, hdr.Version)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || hdr.Bands <= 0 || (hdr.SampleBits != 32 && hdr.SampleBits != 64) {
		return nil, fmt.Errorf("%w: header %+v", ErrCorruptTile, hdr)
	}
	n := hdr.Width * hdr.Height * hdr.Bands
	if hdr.Length != n*hdr.SampleBits/8 {
		return nil, fmt.Errorf("%w: payload length %d for %d samples", ErrCorruptTile, hdr.Length, n)
	}
	raw, err := decompress(env.Data, hdr.Compression, hdr.Length)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}

	img := raster.NewImage(image.Rect(0, 0, hdr.Width, hdr.Height), hdr.Bands)
	if hdr.SampleBits == 64 {
		for i := range img.Pix {
			img.Pix[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	} else {
		for i := range img.Pix {
			img.Pix[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	}
	return img, nil
}

var errIncompressible = errors.New("incompressible")

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(raw, nil)
		if len(out) >= len(raw) {
			return nil, errIncompressible
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", c)
}

func decompress(data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("raw payload is %d bytes, want %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, size)
		}
		return dst, nil
	case CompressionZstd:
		dst, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(dst) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(dst), size)
		}
		return dst, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", c)
}
