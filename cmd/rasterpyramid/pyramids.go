package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create the configured pyramids in the tile store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if len(cfg.Pyramids) == 0 {
			return errors.New("no pyramids configured")
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return st.Close()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [pyramid]",
	Short: "list pyramids or describe one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 0 {
			ps, err := st.Pyramids(ctx)
			if err != nil {
				return err
			}
			for _, p := range ps {
				env := p.Envelope()
				fmt.Printf("%-20s %-10s %d band(s) %d mosaic(s) [%g %g %g %g]\n",
					p.ID, p.CRS, len(p.Dims), len(p.Mosaics), env.Min[0], env.Min[1], env.Max[0], env.Max[1])
			}
			return nil
		}

		p, err := st.Pyramid(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Pyramid: %s\n", p.ID)
		fmt.Printf("  %-10s %s\n", "CRS:", p.CRS)
		for i, d := range p.Dims {
			fmt.Printf("  Band %d:    %s %s nodata=%v\n", i, d.Name, d.Unit, d.NoData)
		}
		for _, m := range p.Mosaics {
			tiles, err := st.ListTiles(ctx, p.ID, m.ID)
			if err != nil {
				return err
			}
			fmt.Printf("  Mosaic %-8s scale=%g tile=%dx%d grid=%dx%d stored=%d/%d\n",
				m.ID, m.Scale[0], m.TileWidth, m.TileHeight, m.GridWidth, m.GridHeight,
				len(tiles), m.GridWidth*m.GridHeight)
		}
		return nil
	},
}

// ensurePyramids creates configured pyramids and mosaics missing from st.
func ensurePyramids(ctx context.Context, st pyramid.TileStore) error {
	for _, pc := range cfg.Pyramids {
		p, err := pc.Pyramid()
		if err != nil {
			return err
		}
		existing, err := st.Pyramid(ctx, p.ID)
		if errors.Is(err, pyramid.ErrPyramidNotFound) {
			if err := st.CreatePyramid(ctx, p); err != nil {
				return fmt.Errorf("create pyramid %s: %w", p.ID, err)
			}
			log.Info().Str("pyramid", p.ID).Int("mosaics", len(p.Mosaics)).Msg("pyramid created")
			continue
		}
		if err != nil {
			return err
		}
		for _, m := range p.Mosaics {
			if _, ok := existing.Mosaic(m.ID); ok {
				continue
			}
			if err := st.CreateMosaic(ctx, p.ID, m); err != nil {
				return fmt.Errorf("create mosaic %s/%s: %w", p.ID, m.ID, err)
			}
			log.Info().Str("pyramid", p.ID).Str("mosaic", m.ID).Msg("mosaic created")
		}
	}
	return nil
}
