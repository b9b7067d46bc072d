package boundary

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

const squareMetersPerHectare = 10000

// Area is the geodesic area of one polygon feature.
type Area struct {
	Boundary     string
	Index        int
	Name         string
	SquareMeters float64
	Hectares     float64
}

// FeatureAreas returns the area of every polygon or multipolygon feature
// of fc. Other geometries are skipped.
func FeatureAreas(boundary string, fc *geojson.FeatureCollection) []Area {
	if fc == nil {
		return nil
	}
	var out []Area
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		m2 := geo.Area(f.Geometry)
		if m2 < 0 {
			m2 = -m2
		}
		a := Area{
			Boundary:     boundary,
			Index:        i,
			SquareMeters: m2,
			Hectares:     m2 / squareMetersPerHectare,
		}
		if name, ok := f.Properties["name"].(string); ok {
			a.Name = name
		}
		out = append(out, a)
	}
	return out
}

// TotalHectares sums the areas.
func TotalHectares(areas []Area) float64 {
	var sum float64
	for _, a := range areas {
		sum += a.Hectares
	}
	return sum
}
