package geotiff

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// Resource is a GeoTIFF file opened as a coverage resource. The header is
// parsed on Open; pixels are decoded on the first Read.
type Resource struct {
	id     string
	path   string
	data   []byte
	mapped bool
	ifd    *ifd
	order  binary.ByteOrder
	geom   grid.Geometry
	dims   []coverage.SampleDimension
	interp raster.Interpolation
	crs    coord.CRS
	log    zerolog.Logger

	once sync.Once
	mem  *coverage.MemoryResource
	err  error
}

// Option configures Open.
type Option func(*Resource)

// WithID overrides the identifier, which defaults to the file name without
// extension.
func WithID(id string) Option { return func(r *Resource) { r.id = id } }

// WithInterpolation selects the kernel used by Read. The default is bilinear.
func WithInterpolation(i raster.Interpolation) Option {
	return func(r *Resource) { r.interp = i }
}

// WithCRS overrides the CRS found in the file.
func WithCRS(c coord.CRS) Option { return func(r *Resource) { r.crs = c } }

func WithLogger(l zerolog.Logger) Option { return func(r *Resource) { r.log = l } }

// Open maps path and parses its first image directory. Georeferencing comes
// from the GeoTIFF tags or, failing that, a world file sidecar.
func Open(path string, opts ...Option) (*Resource, error) {
	r := &Resource{
		path:   path,
		id:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		interp: raster.Bilinear,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

func (r *Resource) load() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: empty file", ErrUnsupported)
	}
	if data, err := mmapFile(f.Fd(), int(st.Size())); err == nil {
		r.data, r.mapped = data, true
	} else {
		r.log.Debug().Err(err).Str("path", r.path).Msg("mmap failed, reading file")
		if r.data, err = os.ReadFile(r.path); err != nil {
			return err
		}
	}

	r.ifd, r.order, err = parse(r.data)
	if err != nil {
		r.release()
		return err
	}
	ref, ok, err := r.ifd.georeference()
	if err != nil {
		r.release()
		return err
	}
	if !ok {
		wf := findWorldFile(r.path)
		if wf == "" {
			r.release()
			return fmt.Errorf("%w: no georeferencing", ErrUnsupported)
		}
		if ref, err = readWorldFile(wf); err != nil {
			r.release()
			return err
		}
		r.log.Debug().Str("world_file", wf).Msg("georeferenced from sidecar")
	}

	w, h := int(r.ifd.ImageWidth), int(r.ifd.ImageLength)
	crs := r.crs
	if crs.IsZero() {
		epsg := ref.epsg
		if epsg == 0 {
			epsg = inferEPSG(ref.transform, w, h)
			r.log.Warn().Str("path", r.path).Int("epsg", epsg).Msg("no CRS in file, inferred from coordinates")
		}
		crs = crsFor(epsg)
	}
	if crs.Flipped() {
		ref.transform = swapAxes(ref.transform)
	}
	r.geom, err = grid.New(image.Rect(0, 0, w, h), ref.transform, ref.anchor, crs)
	if err != nil {
		r.release()
		return err
	}

	nodata, hasNoData := r.ifd.nodata()
	r.dims = make([]coverage.SampleDimension, r.ifd.SamplesPerPixel)
	for i := range r.dims {
		r.dims[i].Name = fmt.Sprintf("band%d", i+1)
		if hasNoData {
			r.dims[i].NoData = []float64{nodata}
		}
	}
	r.log.Debug().
		Str("path", r.path).
		Int("width", w).Int("height", h).
		Int("bands", len(r.dims)).
		Stringer("crs", crs).
		Bool("tiled", r.ifd.tiled()).
		Msg("geotiff opened")
	return nil
}

func (r *Resource) Identifier() string                           { return r.id }
func (r *Resource) GridGeometry() grid.Geometry                  { return r.geom }
func (r *Resource) SampleDimensions() []coverage.SampleDimension { return r.dims }

// Path returns the file the resource was opened from.
func (r *Resource) Path() string { return r.path }

// Coverage decodes the whole image once and returns it.
func (r *Resource) Coverage() (*coverage.GridCoverage, error) {
	r.once.Do(func() {
		if r.data == nil {
			r.err = fmt.Errorf("geotiff %s: closed", r.id)
			return
		}
		img, err := decodeImage(r.data, r.ifd, r.order)
		if err != nil {
			r.err = fmt.Errorf("decode %s: %w", r.path, err)
			return
		}
		cov := &coverage.GridCoverage{Geometry: r.geom, Dims: r.dims, Image: img}
		r.mem, r.err = coverage.NewMemoryResource(r.id, cov)
		if r.mem != nil {
			r.mem.SetInterpolation(r.interp)
		}
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.mem.Coverage(), nil
}

func (r *Resource) Read(ctx context.Context, target grid.Geometry, bands ...int) (*coverage.GridCoverage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := r.Coverage(); err != nil {
		return nil, err
	}
	return r.mem.Read(ctx, target, bands...)
}

// Close releases the file mapping. Decoded pixels stay readable.
func (r *Resource) Close() error {
	return r.release()
}

func (r *Resource) release() error {
	data := r.data
	r.data = nil
	if data != nil && r.mapped {
		return munmapFile(data)
	}
	return nil
}
