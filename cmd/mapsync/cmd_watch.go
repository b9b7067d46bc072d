package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/flywave/go-mapsync/builder"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/memsurface"
	"github.com/flywave/go-mapsync/metrics"
)

type watchOptions struct {
	metricsAddr string
	debounce    time.Duration
}

func newWatchCmd(opts *options) *cobra.Command {
	w := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a headless surface in sync with the catalog file",
		Long: `Starts the engine on an in-memory surface, fetching boundaries from WFS,
and re-applies the catalog whenever the file changes. Metrics are served
on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), opts, w)
		},
	}
	cmd.Flags().StringVar(&w.metricsAddr, "metrics-addr", ":9464", "metrics listen address, empty disables")
	cmd.Flags().DurationVar(&w.debounce, "debounce", builder.DefaultDebounce, "quiet period before a changed catalog is reloaded")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, opts *options, w *watchOptions) error {
	cfg, cat, err := opts.load()
	if err != nil {
		return err
	}
	log := logging.Component("cli")

	surface := memsurface.New(memsurface.WithAutoReady())
	b := builder.New(surface)
	b.SetCatalog(cat)
	b.SetConfig(cfg)
	d, err := b.Build()
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("initial layers incomplete")
	}

	watcher, err := builder.NewWatcher(opts.catalogPath, nil, d.Apply)
	if err != nil {
		return err
	}
	watcher.SetDebounce(w.debounce)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if w.metricsAddr != "" {
		srv, err := serveMetrics(w.metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-watcher.Updates():
			if up.Err != nil {
				fmt.Fprintf(out, "%s catalog not applied: %v\n", up.Time.Format(time.RFC3339), up.Err)
				continue
			}
			fmt.Fprintf(out, "%s catalog applied, %d layers on surface\n", up.Time.Format(time.RFC3339), len(surface.Layers()))
		}
	}
}

func serveMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log := logging.Component("cli")
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log := logging.Component("cli")
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return srv, nil
}
