package main

import (
	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/raster"
	"github.com/pspoerri/rasterpyramid/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve pyramid reads over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
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

		srv := server.New(st, cfg.Server,
			server.WithLogger(log),
			server.WithMetrics(prom),
			server.WithResourceOptions(
				pyramid.WithReadInterpolation(interp),
				pyramid.WithResourceLogger(log),
				pyramid.WithResourceMetrics(prom),
			))
		log.Info().Str("version", version).Str("store", cfg.Store.Backend).Msg("starting server")
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}
