package metrics

import (
	"github.com/paulmach/orb"

	mapsync "github.com/flywave/go-mapsync"
)

// InstrumentSurface counts the mutations issued through s.
func InstrumentSurface(s mapsync.Surface) mapsync.Surface {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{Surface: s}
}

type instrumented struct {
	mapsync.Surface
}

func (i *instrumented) AddSource(id string, src mapsync.Source) error {
	RecordSurfaceMutation("add_source")
	return i.Surface.AddSource(id, src)
}

func (i *instrumented) RemoveSource(id string) error {
	RecordSurfaceMutation("remove_source")
	return i.Surface.RemoveSource(id)
}

func (i *instrumented) AddLayer(l mapsync.StyleLayer) error {
	RecordSurfaceMutation("add_layer")
	return i.Surface.AddLayer(l)
}

func (i *instrumented) RemoveLayer(id string) error {
	RecordSurfaceMutation("remove_layer")
	return i.Surface.RemoveLayer(id)
}

func (i *instrumented) SetPaintProperty(layerID, name string, v mapsync.Value) error {
	RecordSurfaceMutation("set_paint")
	return i.Surface.SetPaintProperty(layerID, name, v)
}

func (i *instrumented) SetLayoutProperty(layerID, name string, v mapsync.Value) error {
	RecordSurfaceMutation("set_layout")
	return i.Surface.SetLayoutProperty(layerID, name, v)
}

func (i *instrumented) SetStyle(style mapsync.StyleRef) error {
	RecordSurfaceMutation("set_style")
	return i.Surface.SetStyle(style)
}

func (i *instrumented) FitBounds(b orb.Bound, opts mapsync.FitOptions) error {
	RecordSurfaceMutation("fit_bounds")
	return i.Surface.FitBounds(b, opts)
}
