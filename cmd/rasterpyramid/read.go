package main

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/encode"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

// Flags shared by read and mosaic.
var (
	outPath    string
	bboxFlag   string
	crsFlag    string
	widthFlag  int
	heightFlag int
	bandsFlag  []int
	quality    int
	renderMode string
	rangeFlag  []float64
	interpFlag string
)

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&outPath, "out", "o", "", "output file (.tif, .png, .jpg, .webp)")
	f.StringVar(&bboxFlag, "bbox", "", "minx,miny,maxx,maxy")
	f.StringVar(&crsFlag, "crs", "", "CRS of --bbox and the output, e.g. EPSG:2056")
	f.IntVar(&widthFlag, "width", 0, "output width in pixels")
	f.IntVar(&heightFlag, "height", 0, "output height in pixels (default: from aspect)")
	f.IntSliceVar(&bandsFlag, "bands", nil, "bands to read")
	f.IntVar(&quality, "quality", 85, "JPEG/WebP quality 1-100")
	f.StringVar(&renderMode, "render", "gray", "image rendering: gray, terrarium")
	f.Float64SliceVar(&rangeFlag, "range", nil, "fixed gray stretch min,max")
	f.StringVar(&interpFlag, "interpolation", "", "nearest, bilinear, bicubic, lanczos")
	cmd.MarkFlagRequired("out")
}

func outputFromFlags() (outputOptions, error) {
	mode, err := encode.ParseMode(renderMode)
	if err != nil {
		return outputOptions{}, err
	}
	o := outputOptions{quality: quality, render: encode.RenderOptions{Mode: mode}}
	switch len(rangeFlag) {
	case 0:
	case 2:
		o.render.Min, o.render.Max = rangeFlag[0], rangeFlag[1]
	default:
		return o, fmt.Errorf("--range needs min,max")
	}
	return o, nil
}

func interpolationFromFlags() (raster.Interpolation, error) {
	if interpFlag == "" {
		return raster.ParseInterpolation(cfg.Writer.Interpolation)
	}
	return raster.ParseInterpolation(interpFlag)
}

// targetGeometry builds the output grid over b, sized by --width and
// --height or by the fallback resolution.
func targetGeometry(b orb.Bound, crs coord.CRS, fallbackRes float64) (grid.Geometry, error) {
	dx, dy := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if dx <= 0 || dy <= 0 {
		return grid.Geometry{}, fmt.Errorf("empty bbox %v", b)
	}
	w, h := widthFlag, heightFlag
	switch {
	case w > 0 && h <= 0:
		h = max(1, int(float64(w)*dy/dx+0.5))
	case h > 0 && w <= 0:
		w = max(1, int(float64(h)*dx/dy+0.5))
	case w <= 0 && h <= 0:
		if fallbackRes <= 0 {
			return grid.Geometry{}, fmt.Errorf("--width or --height is required")
		}
		return grid.FromEnvelope(b, fallbackRes, fallbackRes, crs)
	}
	g, err := grid.FromEnvelope(b, dx/float64(w), dy/float64(h), crs)
	if err != nil {
		return g, err
	}
	return g.WithExtent(image.Rect(0, 0, w, h)), nil
}

var readCmd = &cobra.Command{
	Use:   "read <pyramid>",
	Short: "read an area of a pyramid into a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out, err := outputFromFlags()
		if err != nil {
			return err
		}
		interp, err := interpolationFromFlags()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		res, err := pyramid.Open(ctx, st, args[0],
			pyramid.WithReadInterpolation(interp),
			pyramid.WithResourceLogger(log),
			pyramid.WithResourceMetrics(prom))
		if err != nil {
			return err
		}
		p := res.Pyramid()

		crs := p.CRS
		if crsFlag != "" {
			if crs, err = coord.ParseCRS(crsFlag); err != nil {
				return err
			}
		}
		b := p.Envelope()
		if bboxFlag != "" {
			if b, err = parseBBox(bboxFlag); err != nil {
				return err
			}
		} else if crs != p.CRS {
			if b, err = coord.TransformBound(b, p.CRS, crs); err != nil {
				return err
			}
		}
		fallback := 0.0
		if finest, ok := p.Finest(); ok && crs == p.CRS {
			fallback = min(finest.Scale[0], finest.Scale[1])
		}
		target, err := targetGeometry(b, crs, fallback)
		if err != nil {
			return err
		}

		cov, err := res.Read(ctx, target, bandsFlag...)
		if err != nil {
			return err
		}
		if err := writeOutput(outPath, cov, out); err != nil {
			return err
		}
		reportOutput(outPath, cov.Geometry)
		return nil
	},
}

func init() {
	addOutputFlags(readCmd)
}

func reportOutput(path string, g grid.Geometry) {
	ev := log.Info().Str("out", path).Int("width", g.Width()).Int("height", g.Height())
	if fi, err := os.Stat(path); err == nil {
		ev = ev.Str("size", humanSize(fi.Size()))
	}
	ev.Msg("written")
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if !(b.Max[0] > b.Min[0] && b.Max[1] > b.Min[1]) {
		return orb.Bound{}, fmt.Errorf("bbox %q is empty", s)
	}
	return b, nil
}
