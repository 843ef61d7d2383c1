package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/geotiff"
	"github.com/pspoerri/rasterpyramid/internal/grid"
)

var inspectStats bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.tif...>",
	Short: "print the georeferencing of GeoTIFF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := inspect(path); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectStats, "stats", false, "decode the pixels and print per-band ranges")
}

func inspect(path string) error {
	r, err := geotiff.Open(path, geotiff.WithLogger(log))
	if err != nil {
		return err
	}
	defer r.Close()

	g := r.GridGeometry()
	fmt.Printf("File: %s\n", path)
	fmt.Printf("  %-12s %s\n", "CRS:", g.CRS())
	fmt.Printf("  %-12s %d x %d\n", "Size:", g.Width(), g.Height())
	if m, err := g.GridToCRS(grid.Corner); err == nil {
		fmt.Printf("  %-12s %s\n", "Transform:", m)
	}
	if res, err := g.Resolution(); err == nil {
		fmt.Printf("  %-12s %g x %g\n", "Pixel size:", res[0], res[1])
	}
	if env, err := g.Envelope(); err == nil {
		fmt.Printf("  %-12s X=[%f, %f], Y=[%f, %f]\n", "Bounds:", env.Min[0], env.Max[0], env.Min[1], env.Max[1])
	}

	var stats func(b int) string
	if inspectStats {
		cov, err := r.Coverage()
		if err != nil {
			return err
		}
		stats = func(b int) string {
			lo, hi, ok := cov.Image.Stats(b, cov.Dims[b].Fill())
			if !ok {
				return " range=empty"
			}
			return fmt.Sprintf(" range=[%g, %g]", lo, hi)
		}
	}
	for i, d := range r.SampleDimensions() {
		line := fmt.Sprintf("  Band %-7d %s nodata=%v", i, d.Name, d.NoData)
		if stats != nil {
			line += stats(i)
		}
		fmt.Println(line)
	}
	return nil
}
