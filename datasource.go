package mapsync

import (
	"github.com/paulmach/orb/geojson"
)

type SourceType string

const (
	RasterSource  SourceType = "raster"
	GeoJSONSource SourceType = "geojson"
)

// Source is a data container registered on the render surface.
type Source interface {
	GetType() SourceType
}

// RasterTiles is a tiled raster source. Tiles holds URL templates that the
// surface expands per tile.
type RasterTiles struct {
	Tiles       []string
	TileSize    int
	Scheme      string
	Attribution string
}

func (RasterTiles) GetType() SourceType {
	return RasterSource
}

type GeoJSON struct {
	Data *geojson.FeatureCollection
}

func (GeoJSON) GetType() SourceType {
	return GeoJSONSource
}

// FeatureCount returns the number of features held by the source.
func (g GeoJSON) FeatureCount() int {
	if g.Data == nil {
		return 0
	}
	return len(g.Data.Features)
}

type LayerType string

const (
	RasterLayer LayerType = "raster"
	LineLayer   LayerType = "line"
	SymbolLayer LayerType = "symbol"
	FillLayer   LayerType = "fill"
)

// StyleLayer is a styled view bound to exactly one source.
type StyleLayer struct {
	ID     string
	Type   LayerType
	Source string
	Paint  *Properties
	Layout *Properties
}

// Clone copies the paint and layout properties.
func (l StyleLayer) Clone() StyleLayer {
	l.Paint = l.Paint.Clone()
	l.Layout = l.Layout.Clone()
	return l
}
