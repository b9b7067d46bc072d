package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/flywave/go-mapsync/boundary"
	"github.com/flywave/go-mapsync/wfs"
)

func newFetchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [boundary...]",
		Short: "Fetch boundaries from WFS and print feature counts and areas",
		Long: `Fetches each named boundary, or every auto-loaded boundary of the
catalog, once from WFS and prints its features with their area.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}
}

func runFetch(ctx context.Context, out io.Writer, opts *options, names []string) error {
	cfg, cat, err := opts.load()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = cat.AutoLoadBoundaries()
	}
	client := wfs.NewClientFromConfig(cfg, cat.Boundaries)

	var errs error
	for _, name := range names {
		fc, err := client.Fetch(ctx, name)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", name, err)
			errs = errors.Join(errs, err)
			continue
		}
		areas := boundary.FeatureAreas(name, fc)
		fmt.Fprintf(out, "%s: %d features, %.2f ha\n", name, len(fc.Features), boundary.TotalHectares(areas))
		for _, a := range areas {
			label := a.Name
			if label == "" {
				label = fmt.Sprintf("#%d", a.Index)
			}
			fmt.Fprintf(out, "  %-32s %12.2f ha\n", label, a.Hectares)
		}
	}
	return errs
}
