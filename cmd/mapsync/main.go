// Command mapsync inspects and runs the map layer synchronization engine
// against a catalog without a browser surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
	"github.com/flywave/go-mapsync/logging"
)

type options struct {
	configPath  string
	catalogPath string
	logLevel    string
	logJSON     bool
}

func (o *options) load() (config.Config, *mapsync.Catalog, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logging.ConfigureRuntime(logging.Config{
		Level:   level,
		JSON:    cfg.Log.JSON || o.logJSON,
		NoColor: cfg.Log.NoColor,
	})
	cat, err := mapsync.ParseFile(o.catalogPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cat, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mapsync",
		Short:         "Keep WMS layers and WFS boundaries on a map across basemap swaps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "engine configuration (TOML)")
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "catalog.yml", "layer catalog (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newPlanCmd(opts),
		newFetchCmd(opts),
		newTileCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log := logging.Component("cli")
		log.Error().Err(err).Msg("mapsync failed")
		stop()
		os.Exit(1)
	}
}
