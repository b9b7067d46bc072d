package main

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/boundary"
	"github.com/flywave/go-mapsync/builder"
	"github.com/flywave/go-mapsync/memsurface"
)

type planOptions struct {
	basemap string
	show    []int
	hide    []int
	fetch   bool
}

func newPlanCmd(opts *options) *cobra.Command {
	p := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the surface calls the engine makes for the catalog",
		Long: `Runs the engine against an in-memory surface and prints every source and
layer call, optionally followed by a basemap swap. Boundaries are only
fetched from WFS with --fetch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), opts, p)
		},
	}
	cmd.Flags().StringVar(&p.basemap, "basemap", "", "swap to this basemap after start")
	cmd.Flags().IntSliceVar(&p.show, "show", nil, "layer ids to make visible")
	cmd.Flags().IntSliceVar(&p.hide, "hide", nil, "layer ids to hide")
	cmd.Flags().BoolVar(&p.fetch, "fetch", false, "fetch boundaries from WFS")
	return cmd
}

// emptyFetcher stands in for WFS when plan runs offline.
var emptyFetcher = boundary.FetcherFunc(func(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	return geojson.NewFeatureCollection(), nil
})

func runPlan(ctx context.Context, out io.Writer, opts *options, p *planOptions) error {
	cfg, cat, err := opts.load()
	if err != nil {
		return err
	}
	for _, id := range p.show {
		cat.Layers = cat.Layers.SetVisible(id, true)
	}
	for _, id := range p.hide {
		cat.Layers = cat.Layers.SetVisible(id, false)
	}

	surface := memsurface.New(memsurface.WithAutoReady())
	b := builder.New(surface)
	b.SetCatalog(cat)
	b.SetConfig(cfg)
	b.SetInstrument(false)
	if !p.fetch {
		b.SetFetcher(emptyFetcher)
	}
	notes := &mapsync.Recorder{}
	b.SetNotifier(notes)

	d, err := b.Build()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}
	d.Coordinator.Wait()
	printOps(out, "start", surface)

	if p.basemap != "" {
		surface.ResetOps()
		if err := d.Coordinator.SetBasemap(p.basemap); err != nil {
			return err
		}
		d.Coordinator.Wait()
		printOps(out, "basemap "+p.basemap, surface)
	}

	fmt.Fprintln(out, "# layers")
	for _, id := range surface.Layers() {
		fmt.Fprintf(out, "  %s\n", id)
	}
	for _, n := range notes.All() {
		fmt.Fprintf(out, "! %s: %s\n", n.Level, n.Message)
	}
	return nil
}

func printOps(out io.Writer, title string, surface *memsurface.Surface) {
	ops := surface.Ops()
	fmt.Fprintf(out, "# %s (%d calls)\n", title, len(ops))
	for _, op := range ops {
		fmt.Fprintf(out, "  %s\n", op)
	}
}
