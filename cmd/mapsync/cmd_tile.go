package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cobra"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/wms"
)

func newTileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tile LAYER Z X Y",
		Short: "Print the WMS GetMap URL the surface requests for one tile",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTile(cmd.OutOrStdout(), opts, args)
		},
	}
}

func runTile(out io.Writer, opts *options, args []string) error {
	cfg, cat, err := opts.load()
	if err != nil {
		return err
	}
	name := args[0]
	if _, ok := cat.Layers.ByName(name); !ok {
		return fmt.Errorf("layer %q not in catalog", name)
	}

	var zxy [3]uint64
	for i, raw := range args[1:] {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("tile coordinate %q: %w", raw, err)
		}
		zxy[i] = v
	}
	z := maptile.Zoom(zxy[0])
	if z > 30 || zxy[1] >= 1<<z || zxy[2] >= 1<<z {
		return fmt.Errorf("tile %d/%d/%d out of range", zxy[0], zxy[1], zxy[2])
	}
	tile := maptile.New(uint32(zxy[1]), uint32(zxy[2]), z)

	template := wms.FromConfig(cfg).TileURL(name)
	u, err := mapsync.ExpandTileURL(template, tile)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, u)
	return nil
}
