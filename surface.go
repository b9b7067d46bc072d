package mapsync

import (
	"time"

	"github.com/paulmach/orb"
)

// Surface is the live, stateful map renderer. It is owned by the host;
// the engine only calls it.
//
// SetStyle replaces the whole style and drops every source and layer that
// was added before. The surface reports completion through the callbacks
// registered with OnStyleReady, which may run on any goroutine, including
// synchronously inside SetStyle.
//
// Mutations that reference a missing or already present id fail with a
// *SurfaceStateError.
type Surface interface {
	AddSource(id string, src Source) error
	RemoveSource(id string) error
	AddLayer(layer StyleLayer) error
	RemoveLayer(id string) error
	SetPaintProperty(layerID, name string, value Value) error
	SetLayoutProperty(layerID, name string, value Value) error
	SetStyle(style StyleRef) error
	HasLayer(id string) bool
	HasSource(id string) bool
	FitBounds(bounds orb.Bound, opts FitOptions) error
	OnStyleReady(fn func(StyleEvent)) (unsubscribe func())
}

// StyleEvent is emitted by the surface once a style has been loaded.
type StyleEvent struct {
	Key string
}

type FitOptions struct {
	Padding  int
	Duration time.Duration
}

var DefaultFitOptions = FitOptions{Padding: 50, Duration: time.Second}
