package geotiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zlib"

	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
)

// TIFF field types.
const (
	tAscii  = 2
	tShort  = 3
	tLong   = 4
	tDouble = 12
)

// EncodeOptions controls Encode.
type EncodeOptions struct {
	// Deflate compresses each chunk with zlib.
	Deflate bool
	// TileSize writes square tiles of this size; 0 writes strips.
	TileSize int
	// RowsPerStrip defaults to as many rows as fit in 64 KiB.
	RowsPerStrip int
}

var enc = binary.LittleEndian

// field is one IFD entry. Values longer than four bytes go to the overflow
// area after the directory.
type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(tag uint16, v ...uint16) field {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		enc.PutUint16(b[2*i:], x)
	}
	return field{tag: tag, typ: tShort, count: uint32(len(v)), data: b}
}

func longs(tag uint16, v ...uint32) field {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		enc.PutUint32(b[4*i:], x)
	}
	return field{tag: tag, typ: tLong, count: uint32(len(v)), data: b}
}

func doubles(tag uint16, v ...float64) field {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		enc.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return field{tag: tag, typ: tDouble, count: uint32(len(v)), data: b}
}

func ascii(tag uint16, s string) field {
	b := append([]byte(s), 0)
	return field{tag: tag, typ: tAscii, count: uint32(len(b)), data: b}
}

// Encode writes cov as a little-endian classic GeoTIFF with float32
// samples. A north-east CRS is written with easting first.
func Encode(w io.Writer, cov *coverage.GridCoverage, opts EncodeOptions) error {
	ext, err := cov.Geometry.Extent()
	if err != nil {
		return err
	}
	if cov.Image == nil || cov.Image.Rect != ext {
		return fmt.Errorf("encode: image does not match extent %v", ext)
	}
	if ext.Empty() {
		return fmt.Errorf("encode: empty extent")
	}
	t, err := cov.Geometry.GridToCRS(grid.Corner)
	if err != nil {
		return err
	}
	t = t.Translate(float64(ext.Min.X), float64(ext.Min.Y))
	crs := cov.Geometry.CRS()
	if crs.Flipped() {
		t = swapAxes(t)
	}

	width, height, bands := ext.Dx(), ext.Dy(), cov.Image.Bands
	cw, ch := width, opts.RowsPerStrip
	if opts.TileSize > 0 {
		if opts.TileSize%16 != 0 {
			return fmt.Errorf("encode: tile size %d is not a multiple of 16", opts.TileSize)
		}
		cw, ch = opts.TileSize, opts.TileSize
	} else {
		if ch <= 0 {
			ch = max(1, (64<<10)/(width*bands*4))
		}
		ch = min(ch, height)
	}

	across, down := (width+cw-1)/cw, (height+ch-1)/ch
	chunks := make([][]byte, 0, across*down)
	for cy := 0; cy < down; cy++ {
		for cx := 0; cx < across; cx++ {
			rows := ch
			if opts.TileSize == 0 {
				rows = min(ch, height-cy*ch)
			}
			b, err := encodeChunk(cov, cx*cw, cy*ch, cw, rows, opts.Deflate)
			if err != nil {
				return err
			}
			chunks = append(chunks, b)
		}
	}

	offsets := make([]uint32, len(chunks))
	counts := make([]uint32, len(chunks))
	pos := uint32(8)
	for i, c := range chunks {
		offsets[i], counts[i] = pos, uint32(len(c))
		pos += uint32(len(c))
		pos += pos & 1
	}
	ifdOff := pos

	compression := uint16(compressionNone)
	if opts.Deflate {
		compression = compressionDeflate
	}
	bits := make([]uint16, bands)
	formats := make([]uint16, bands)
	for i := range bits {
		bits[i], formats[i] = 32, sampleFormatFloat
	}
	fields := []field{
		longs(256, uint32(width)),
		longs(257, uint32(height)),
		shorts(258, bits...),
		shorts(259, compression),
		shorts(262, photometricMinIsBlack),
		shorts(277, uint16(bands)),
		shorts(284, planarChunky),
		shorts(339, formats...),
	}
	if opts.TileSize > 0 {
		fields = append(fields,
			shorts(322, uint16(cw)),
			shorts(323, uint16(ch)),
			longs(324, offsets...),
			longs(325, counts...))
	} else {
		fields = append(fields,
			longs(273, offsets...),
			longs(278, uint32(ch)),
			longs(279, counts...))
	}
	if bands > 1 {
		// Extra samples are unspecified data.
		fields = append(fields, shorts(338, make([]uint16, bands-1)...))
	}
	if t.B == 0 && t.D == 0 && t.A > 0 && t.E < 0 {
		fields = append(fields,
			doubles(33550, t.A, -t.E, 0),
			doubles(33922, 0, 0, 0, t.C, t.F, 0))
	} else {
		fields = append(fields, doubles(34264,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1))
	}
	if !crs.IsZero() {
		fields = append(fields, shorts(34735, geoKeyDirectory(crs.EPSG)...))
	}
	if len(cov.Dims) > 0 && len(cov.Dims[0].NoData) > 0 {
		fields = append(fields, ascii(42113, formatNoData(cov.Dims[0].NoData[0])))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	bw := bufio.NewWriter(w)
	header := make([]byte, 8)
	copy(header, "II")
	enc.PutUint16(header[2:], 42)
	enc.PutUint32(header[4:], ifdOff)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := bw.Write(c); err != nil {
			return err
		}
		if len(c)&1 == 1 {
			bw.WriteByte(0)
		}
	}
	if err := writeIFD(bw, fields, ifdOff); err != nil {
		return err
	}
	return bw.Flush()
}

// writeIFD writes the directory at offset off followed by its overflow area.
func writeIFD(w io.Writer, fields []field, off uint32) error {
	var dir, overflow bytes.Buffer
	next := off + 2 + 12*uint32(len(fields)) + 4
	binary.Write(&dir, enc, uint16(len(fields)))
	for _, f := range fields {
		entry := make([]byte, 12)
		enc.PutUint16(entry[0:], f.tag)
		enc.PutUint16(entry[2:], f.typ)
		enc.PutUint32(entry[4:], f.count)
		if len(f.data) <= 4 {
			copy(entry[8:], f.data)
		} else {
			enc.PutUint32(entry[8:], next+uint32(overflow.Len()))
			overflow.Write(f.data)
			if overflow.Len()&1 == 1 {
				overflow.WriteByte(0)
			}
		}
		dir.Write(entry)
	}
	binary.Write(&dir, enc, uint32(0))
	if _, err := w.Write(dir.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(overflow.Bytes())
	return err
}

// encodeChunk packs the w x h block at (x0, y0), relative to the image
// origin, as float32 samples. Pixels outside the image are zero.
func encodeChunk(cov *coverage.GridCoverage, x0, y0, w, h int, deflate bool) ([]byte, error) {
	img := cov.Image
	bands := img.Bands
	buf := make([]byte, w*h*bands*4)
	origin := img.Rect.Min
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ix, iy := origin.X+x0+x, origin.Y+y0+y
			if !img.In(ix, iy) {
				continue
			}
			o := (y*w + x) * bands * 4
			p := img.PixOffset(ix, iy)
			for b := 0; b < bands; b++ {
				enc.PutUint32(buf[o+4*b:], math.Float32bits(float32(img.Pix[p+b])))
			}
		}
	}
	if !deflate {
		return buf, nil
	}
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(buf); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// WriteFile encodes cov to path through a temporary file and a rename.
func WriteFile(path string, cov *coverage.GridCoverage, opts EncodeOptions) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".geotiff-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Encode(tmp, cov, opts); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
