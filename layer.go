package mapsync

import (
	"github.com/paulmach/orb"
)

type GeometryType string

const (
	Unknown GeometryType = "Unknown"
	Polygon GeometryType = "Polygon"
	Raster  GeometryType = "Raster"
)

func parseGeometryType(t string) GeometryType {
	switch t {
	case "polygon":
		return Polygon
	case "raster", "":
		return Raster
	default:
		return Unknown
	}
}

const DefaultOpacity = 0.8

// LayerDescriptor is one declared WMS raster overlay.
type LayerDescriptor struct {
	ID      int
	Name    string
	Title   string
	Type    GeometryType
	Visible bool
	Opacity float64
	BBox    *orb.Bound

	Date        string
	Region      string
	Category    string
	Description string
}

// ClampedOpacity returns the opacity limited to [0,1].
func (d LayerDescriptor) ClampedOpacity() float64 {
	switch {
	case d.Opacity < 0:
		return 0
	case d.Opacity > 1:
		return 1
	}
	return d.Opacity
}

// BoundaryDescriptor is one declared WFS boundary overlay.
type BoundaryDescriptor struct {
	Name     string
	Title    string
	AutoLoad bool
	// Filter restricts the fetched features by property equality.
	Filter map[string][]string
}

// BoundaryNames returns the names of the boundaries in declaration order.
func BoundaryNames(bs []BoundaryDescriptor) []string {
	names := make([]string, len(bs))
	for i := range bs {
		names[i] = bs[i].Name
	}
	return names
}

// LayerSet is an ordered list of declared raster layers. Its methods never
// modify the receiver; they return an updated copy.
type LayerSet []LayerDescriptor

func (s LayerSet) clone() LayerSet {
	r := make(LayerSet, len(s))
	copy(r, s)
	return r
}

func (s LayerSet) Toggle(id int) LayerSet {
	r := s.clone()
	for i := range r {
		if r[i].ID == id {
			r[i].Visible = !r[i].Visible
		}
	}
	return r
}

func (s LayerSet) SetVisible(id int, visible bool) LayerSet {
	r := s.clone()
	for i := range r {
		if r[i].ID == id {
			r[i].Visible = visible
		}
	}
	return r
}

func (s LayerSet) WithOpacity(id int, opacity float64) LayerSet {
	r := s.clone()
	for i := range r {
		if r[i].ID == id {
			r[i].Opacity = opacity
		}
	}
	return r
}

func (s LayerSet) ShowAll() LayerSet {
	r := s.clone()
	for i := range r {
		r[i].Visible = true
	}
	return r
}

func (s LayerSet) HideAll() LayerSet {
	r := s.clone()
	for i := range r {
		r[i].Visible = false
	}
	return r
}

// Visible returns the visible descriptors in declaration order.
func (s LayerSet) Visible() LayerSet {
	r := LayerSet{}
	for _, d := range s {
		if d.Visible {
			r = append(r, d)
		}
	}
	return r
}

func (s LayerSet) ByID(id int) (LayerDescriptor, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return LayerDescriptor{}, false
}

func (s LayerSet) ByName(name string) (LayerDescriptor, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return LayerDescriptor{}, false
}

// Bounds returns the union of the bounding boxes of all visible layers.
// ok is false when no visible layer carries a box.
func (s LayerSet) Bounds() (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, d := range s {
		if !d.Visible || d.BBox == nil {
			continue
		}
		if !ok {
			b = *d.BBox
			ok = true
			continue
		}
		b = b.Union(*d.BBox)
	}
	return b, ok
}
