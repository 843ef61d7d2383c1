package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pspoerri/rasterpyramid/internal/config"
	"github.com/pspoerri/rasterpyramid/internal/logger"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
	"github.com/pspoerri/rasterpyramid/internal/tilestore"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags.
var (
	configPath string
	storeKind  string
	storePath  string
	redisAddr  string
	logLevel   string
	logConsole bool
)

var (
	cfg       config.Config
	log       zerolog.Logger
	prom      *metrics.Provider
	startTime time.Time
)

var rootCmd = &cobra.Command{
	Use:     "rasterpyramid",
	Short:   "Multi-resolution raster pyramids and mosaics",
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		startTime = time.Now()
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("store") {
			cfg.Store.Backend = storeKind
		}
		if flags.Changed("store-path") {
			cfg.Store.Path = storePath
		}
		if flags.Changed("redis-addr") {
			cfg.Store.RedisAddr = redisAddr
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-console") {
			cfg.Log.Console = logConsole
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log = logger.Build(cfg.Logger(cmd.Name()), os.Stderr)
		prom = metrics.Init(version)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		log.Debug().Str("command", cmd.Name()).Dur("took", time.Since(startTime)).Msg("done")
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML configuration file")
	pf.StringVar(&storeKind, "store", "", "tile store backend: memory, disk, redis")
	pf.StringVar(&storePath, "store-path", "", "directory of the disk store")
	pf.StringVar(&redisAddr, "redis-addr", "", "address of the redis store")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&logConsole, "log-console", false, "human readable log output")

	rootCmd.AddCommand(initCmd, infoCmd, ingestCmd, readCmd, mosaicCmd, inspectCmd, serveCmd)
}

// openStore opens the configured tile store and makes sure every configured
// pyramid and mosaic exists in it.
func openStore(ctx context.Context) (pyramid.TileStore, error) {
	st, err := tilestore.Open(ctx, cfg.StoreOptions(log, prom))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := ensurePyramids(ctx, st); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
