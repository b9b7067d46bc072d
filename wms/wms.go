// Package wms builds WMS GetMap tile URL templates for raster overlays.
package wms

import (
	"net/url"
	"strconv"
	"strings"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
)

// Endpoint describes the WMS service of one GeoServer workspace.
type Endpoint struct {
	BaseURL     string
	Workspace   string
	Version     string
	SRS         string
	Format      string
	Styles      string
	TileSize    int
	Transparent bool
}

func FromConfig(cfg config.Config) Endpoint {
	return Endpoint{
		BaseURL:     cfg.GeoServer.BaseURL,
		Workspace:   cfg.GeoServer.Workspace,
		Version:     cfg.WMS.Version,
		SRS:         cfg.WMS.SRS,
		Format:      cfg.WMS.Format,
		Styles:      cfg.WMS.Styles,
		TileSize:    cfg.WMS.TileSize,
		Transparent: cfg.WMS.Transparent,
	}
}

// srsParam returns "crs" for WMS 1.3.0 and "srs" before.
func (e Endpoint) srsParam() string {
	if strings.HasPrefix(e.Version, "1.3") {
		return "crs"
	}
	return "srs"
}

func (e Endpoint) bboxPlaceholder() string {
	if e.SRS == "EPSG:4326" {
		return "{" + mapsync.PlaceholderBBox4326 + "}"
	}
	return "{" + mapsync.PlaceholderBBox3857 + "}"
}

func (e Endpoint) tileSize() int {
	if e.TileSize <= 0 {
		return 256
	}
	return e.TileSize
}

// TileURL returns the GetMap URL template for the layer named name. The
// bbox placeholder is left for the surface to substitute per tile.
func (e Endpoint) TileURL(name string) string {
	size := strconv.Itoa(e.tileSize())
	format := e.Format
	if format == "" {
		format = "image/png"
	}
	params := [][2]string{
		{"service", "WMS"},
		{"version", e.Version},
		{"request", "GetMap"},
		{"layers", e.Workspace + ":" + name},
		{"bbox", ""},
		{"width", size},
		{"height", size},
		{e.srsParam(), e.SRS},
		{"styles", e.Styles},
		{"format", format},
		{"transparent", strconv.FormatBool(e.Transparent)},
	}

	var buf strings.Builder
	buf.WriteString(strings.TrimRight(e.BaseURL, "/"))
	buf.WriteString("/")
	buf.WriteString(url.PathEscape(e.Workspace))
	buf.WriteString("/wms?")
	for i, p := range params {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(p[0])
		buf.WriteByte('=')
		if p[0] == "bbox" {
			buf.WriteString(e.bboxPlaceholder())
			continue
		}
		buf.WriteString(url.QueryEscape(p[1]))
	}
	return buf.String()
}

// Source returns the raster source for the layer named name.
func (e Endpoint) Source(name string) mapsync.RasterTiles {
	return mapsync.RasterTiles{
		Tiles:    []string{e.TileURL(name)},
		TileSize: e.tileSize(),
		Scheme:   "xyz",
	}
}
