package mapsync

import "github.com/paulmach/orb"

// Map holds the initial viewport of the dashboard.
type Map struct {
	SRS     string
	Bounds  *orb.Bound
	Center  orb.Point
	Zoom    float64
	MinZoom float64
	MaxZoom float64
}

// Basemap is one selectable base style. A basemap either points to a
// style document (URL) or carries the style inline.
type Basemap struct {
	ID      string
	Name    string
	URL     string
	Style   map[string]interface{}
	Default bool
}

func (b Basemap) StyleRef() StyleRef {
	return StyleRef{Key: b.styleKey(), URL: b.URL, Inline: b.Style}
}

func (b Basemap) styleKey() string {
	if b.URL != "" {
		return b.URL
	}
	return "basemap:" + b.ID
}

// StyleRef identifies the style handed to Surface.SetStyle. Key is echoed
// back in the StyleEvent once the surface has finished loading it.
type StyleRef struct {
	Key    string
	URL    string
	Inline map[string]interface{}
}
