package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"runtime"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// decodeImage decodes every chunk of the image described by d into a float64
// raster anchored at (0, 0). Chunks are decoded concurrently.
func decodeImage(data []byte, d *ifd, bo binary.ByteOrder) (*raster.Image, error) {
	w, h := int(d.ImageWidth), int(d.ImageLength)
	spp := int(d.SamplesPerPixel)
	img := raster.NewImage(image.Rect(0, 0, w, h), spp)
	cw, ch := d.chunkSize()
	across, down := d.chunksAcross(), d.chunksDown()
	offsets, counts := d.chunks()

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < across*down; i++ {
		g.Go(func() error {
			r := image.Rect(0, 0, cw, ch).Add(image.Pt((i%across)*cw, (i/across)*ch))
			rows := ch
			if !d.tiled() {
				rows = min(ch, h-r.Min.Y)
			}
			raw, err := chunkBytes(data, offsets[i], counts[i])
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			buf, err := d.decompress(raw, cw*rows*spp*d.bits()/8)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			order := bo
			switch d.Predictor {
			case 0, predictorNone:
			case predictorHorizontal:
				undoHorizontal(buf, cw*spp, spp, d.bits()/8, bo)
			case predictorFloatingPoint:
				buf = undoFloatingPoint(buf, cw*spp, spp, d.bits()/8)
				order = binary.BigEndian
			default:
				return fmt.Errorf("%w: predictor %d", ErrUnsupported, d.Predictor)
			}
			d.copyChunk(img, buf, r.Intersect(img.Rect), r.Min, cw, order)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return img, nil
}

func chunkBytes(data []byte, off, n uint64) ([]byte, error) {
	if off > uint64(len(data)) || n > uint64(len(data))-off {
		return nil, fmt.Errorf("%w: chunk [%d, %d) beyond file size %d", ErrUnsupported, off, off+n, len(data))
	}
	return data[off : off+n], nil
}

func (d *ifd) decompress(raw []byte, want int) ([]byte, error) {
	var rd io.Reader
	switch d.Compression {
	case 0, compressionNone:
		if len(raw) < want {
			return nil, fmt.Errorf("%w: %d bytes, want %d", ErrUnsupported, len(raw), want)
		}
		return bytes.Clone(raw[:want]), nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		rd = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		rd = zr
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return buf, nil
}

// undoHorizontal reverses integer horizontal differencing in place. Each
// sample is summed with the same band of the pixel to its left.
func undoHorizontal(buf []byte, stride, spp, size int, bo binary.ByteOrder) {
	rowBytes := stride * size
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		line := buf[row : row+rowBytes]
		for i := spp; i < stride; i++ {
			switch size {
			case 1:
				line[i] += line[i-spp]
			case 2:
				bo.PutUint16(line[2*i:], bo.Uint16(line[2*i:])+bo.Uint16(line[2*(i-spp):]))
			case 4:
				bo.PutUint32(line[4*i:], bo.Uint32(line[4*i:])+bo.Uint32(line[4*(i-spp):]))
			}
		}
	}
}

// undoFloatingPoint reverses the floating point predictor. Each row holds
// byte planes, most significant first, differenced bytewise. The result is
// big-endian.
func undoFloatingPoint(buf []byte, stride, spp, size int) []byte {
	rowBytes := stride * size
	out := make([]byte, len(buf))
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		line := buf[row : row+rowBytes]
		for i := spp; i < rowBytes; i++ {
			line[i] += line[i-spp]
		}
		dst := out[row : row+rowBytes]
		for k := 0; k < stride; k++ {
			for b := 0; b < size; b++ {
				dst[k*size+b] = line[b*stride+k]
			}
		}
	}
	return out
}

// copyChunk writes the pixels of dst (in image coordinates) from a decoded
// chunk whose upper-left pixel is origin.
func (d *ifd) copyChunk(img *raster.Image, buf []byte, dst image.Rectangle, origin image.Point, cw int, bo binary.ByteOrder) {
	spp := int(d.SamplesPerPixel)
	size := d.bits() / 8
	format := d.format()
	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		for x := dst.Min.X; x < dst.Max.X; x++ {
			o := ((y-origin.Y)*cw + (x - origin.X)) * spp * size
			px := img.PixOffset(x, y)
			for b := 0; b < spp; b++ {
				img.Pix[px+b] = sample(buf[o+b*size:], size, format, bo)
			}
		}
	}
}

func sample(b []byte, size, format int, bo binary.ByteOrder) float64 {
	switch format {
	case sampleFormatFloat:
		if size == 4 {
			return float64(math.Float32frombits(bo.Uint32(b)))
		}
		return math.Float64frombits(bo.Uint64(b))
	case sampleFormatInt:
		switch size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(bo.Uint16(b)))
		default:
			return float64(int32(bo.Uint32(b)))
		}
	default:
		switch size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(bo.Uint16(b))
		default:
			return float64(bo.Uint32(b))
		}
	}
}
