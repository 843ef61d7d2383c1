package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/events"
	"github.com/pspoerri/rasterpyramid/internal/geotiff"
	"github.com/pspoerri/rasterpyramid/internal/grid"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
)

var ingestBBox string

var ingestCmd = &cobra.Command{
	Use:   "ingest <pyramid> <files-or-dirs...>",
	Short: "write GeoTIFF files into every mosaic of a pyramid",
	Long: "Files are written in the given order; later files overwrite the " +
		"valid pixels of earlier ones.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		files, err := collectTIFFs(args[1:])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no GeoTIFF files found")
		}
		interp, err := raster.ParseInterpolation(cfg.Writer.Interpolation)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var notifier events.Notifier = events.Nop{}
		if len(cfg.Kafka.Brokers) > 0 {
			kn, err := events.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.QueueSize, log)
			if err != nil {
				return err
			}
			defer kn.Close()
			notifier = kn
		}

		res, err := pyramid.Open(ctx, st, args[0],
			pyramid.WithReadInterpolation(interp),
			pyramid.WithResourceLogger(log),
			pyramid.WithResourceMetrics(prom),
			pyramid.WithWriterOptions(
				pyramid.WithConcurrency(cfg.Writer.Concurrency),
				pyramid.WithNotifier(notifier),
			))
		if err != nil {
			return err
		}

		var region grid.Geometry
		if ingestBBox != "" {
			b, err := parseBBox(ingestBBox)
			if err != nil {
				return err
			}
			if region, err = grid.FromEnvelope(b, b.Max[0]-b.Min[0], b.Max[1]-b.Min[1], res.Pyramid().CRS); err != nil {
				return err
			}
		}

		for i, path := range files {
			t0 := time.Now()
			src, err := geotiff.Open(path, geotiff.WithLogger(log))
			if err != nil {
				return err
			}
			cov, err := src.Coverage()
			if err == nil {
				err = res.Write(ctx, cov, region)
			}
			src.Close()
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			log.Info().
				Str("file", path).
				Int("n", i+1).
				Int("of", len(files)).
				Dur("took", time.Since(t0)).
				Msg("ingested")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBBox, "bbox", "", "only write inside minx,miny,maxx,maxy (pyramid CRS)")
}
