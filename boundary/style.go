package boundary

import (
	"github.com/hsluv/hsluv-go"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
)

// Style holds the paint of the outline and label layers.
type Style struct {
	OutlineColor   string
	OutlineWidth   float64
	OutlineOpacity float64
	// AutoColor gives every boundary its own hue, evenly spaced by
	// declaration index. OutlineColor is ignored then.
	AutoColor bool

	LabelSize      float64
	LabelColor     string
	LabelHaloColor string
	LabelHaloWidth float64
}

var DefaultStyle = Style{
	OutlineColor:   "#FF0000",
	OutlineWidth:   2,
	OutlineOpacity: 0.8,
	LabelSize:      12,
	LabelColor:     "#000000",
	LabelHaloColor: "#FFFFFF",
	LabelHaloWidth: 1,
}

func StyleFromConfig(b config.Boundary) Style {
	s := DefaultStyle
	if b.OutlineColor != "" {
		s.OutlineColor = b.OutlineColor
	}
	if b.OutlineWidth > 0 {
		s.OutlineWidth = b.OutlineWidth
	}
	if b.OutlineOpacity > 0 {
		s.OutlineOpacity = b.OutlineOpacity
	}
	s.AutoColor = b.AutoColor
	if b.LabelSize > 0 {
		s.LabelSize = b.LabelSize
	}
	if b.LabelColor != "" {
		s.LabelColor = b.LabelColor
	}
	if b.LabelHalo != "" {
		s.LabelHaloColor = b.LabelHalo
	}
	return s
}

// Color returns the outline colour of the i-th of n boundaries.
func (s Style) Color(i, n int) string {
	if !s.AutoColor || n <= 0 {
		return s.OutlineColor
	}
	return paletteColor(i, n)
}

// paletteColor picks evenly spaced hues in HSLuv so that neighbouring
// boundaries keep the same perceived lightness.
func paletteColor(i, n int) string {
	hue := 360 * float64(i%n) / float64(n)
	return hsluv.HsluvToHex(hue, 90, 50)
}

func (s Style) outline(id, source, color string, visible bool) mapsync.StyleLayer {
	return mapsync.StyleLayer{
		ID:     id,
		Type:   mapsync.LineLayer,
		Source: source,
		Paint: mapsync.NewProperties(
			mapsync.PropLineColor, color,
			mapsync.PropLineWidth, s.OutlineWidth,
			mapsync.PropLineOpacity, s.OutlineOpacity,
		),
		Layout: mapsync.NewProperties(mapsync.PropVisibility, mapsync.VisibilityValue(visible)),
	}
}

func (s Style) labels(id, source string, visible bool) mapsync.StyleLayer {
	return mapsync.StyleLayer{
		ID:     id,
		Type:   mapsync.SymbolLayer,
		Source: source,
		Paint: mapsync.NewProperties(
			mapsync.PropTextColor, s.LabelColor,
			mapsync.PropTextHaloColor, s.LabelHaloColor,
			mapsync.PropTextHaloWidth, s.LabelHaloWidth,
		),
		Layout: mapsync.NewProperties(
			mapsync.PropTextField, []interface{}{"get", "name"},
			mapsync.PropTextSize, s.LabelSize,
			mapsync.PropTextAnchor, "center",
			mapsync.PropVisibility, mapsync.VisibilityValue(visible),
		),
	}
}
