package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/aggregate"
	"github.com/pspoerri/rasterpyramid/internal/coord"
	"github.com/pspoerri/rasterpyramid/internal/coverage"
	"github.com/pspoerri/rasterpyramid/internal/geotiff"
)

var (
	mosaicMode   string
	mosaicMargin int
	mosaicRes    float64
)

var mosaicCmd = &cobra.Command{
	Use:   "mosaic <files-or-dirs...>",
	Short: "merge GeoTIFF files into one raster",
	Long: "In order mode earlier files take priority; in scale mode the file " +
		"whose resolution best matches the output is used first.",
	Args: cobra.MinimumNArgs(1),
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
		mode, err := aggregate.ParseMode(mosaicMode)
		if err != nil {
			return err
		}
		files, err := collectTIFFs(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no GeoTIFF files found")
		}

		srcs, err := openTIFFs(files, geotiff.WithInterpolation(interp), geotiff.WithLogger(log))
		if err != nil {
			return err
		}
		defer closeTIFFs(srcs)
		members := make([]coverage.Resource, len(srcs))
		for i, s := range srcs {
			members[i] = s
		}

		opts := []aggregate.Option{
			aggregate.WithMode(mode),
			aggregate.WithInterpolation(interp),
			aggregate.WithMargin(mosaicMargin),
			aggregate.WithLogger(log),
			aggregate.WithMetrics(prom),
		}
		if crsFlag != "" {
			crs, err := coord.ParseCRS(crsFlag)
			if err != nil {
				return err
			}
			opts = append(opts, aggregate.WithCRS(crs))
		}
		agg, err := aggregate.New(members, opts...)
		if err != nil {
			return err
		}

		b := agg.Envelope()
		if bboxFlag != "" {
			if b, err = parseBBox(bboxFlag); err != nil {
				return err
			}
		}
		res := mosaicRes
		if res <= 0 {
			if r, err := agg.GridGeometry().Resolution(); err == nil {
				res = math.Min(r[0], r[1])
			}
		}
		target, err := targetGeometry(b, agg.CRS(), res)
		if err != nil {
			return err
		}
		log.Info().
			Int("files", len(files)).
			Str("mode", mode.String()).
			Str("crs", agg.CRS().String()).
			Int("width", target.Width()).
			Int("height", target.Height()).
			Msg("mosaic")

		cov, err := agg.Read(ctx, target, bandsFlag...)
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
	addOutputFlags(mosaicCmd)
	f := mosaicCmd.Flags()
	f.StringVar(&mosaicMode, "mode", "order", "member priority: order, scale")
	f.IntVar(&mosaicMargin, "margin", aggregate.DefaultMargin, "source pixels read around each member")
	f.Float64Var(&mosaicRes, "resolution", 0, "output pixel size in CRS units (default: finest member)")
}
