package mapsync

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v2"
)

// Catalog is the static description of everything the dashboard can show.
type Catalog struct {
	Name       string
	Map        Map
	Basemaps   []Basemap
	Layers     LayerSet
	Boundaries []BoundaryDescriptor
}

type auxCatalog struct {
	Name       string        `yaml:"name"`
	Map        auxMap        `yaml:"map"`
	Basemaps   []auxBasemap  `yaml:"basemaps"`
	Layers     []auxLayer    `yaml:"layers"`
	Boundaries []auxBoundary `yaml:"boundaries"`
}

type auxMap struct {
	SRS     string    `yaml:"srs"`
	Bounds  []float64 `yaml:"bounds"`
	Center  []float64 `yaml:"center"`
	Zoom    float64   `yaml:"zoom"`
	MinZoom float64   `yaml:"minzoom"`
	MaxZoom float64   `yaml:"maxzoom"`
}

type auxBasemap struct {
	ID      string                      `yaml:"id"`
	Name    string                      `yaml:"name"`
	URL     string                      `yaml:"url"`
	Style   map[interface{}]interface{} `yaml:"style"`
	Default bool                        `yaml:"default"`
}

type auxLayer struct {
	ID          int       `yaml:"id"`
	Name        string    `yaml:"name"`
	Title       string    `yaml:"title"`
	Type        string    `yaml:"type"`
	Visible     bool      `yaml:"visible"`
	Opacity     *float64  `yaml:"opacity,omitempty"`
	BBox        []float64 `yaml:"bbox"`
	Date        string    `yaml:"date"`
	Region      string    `yaml:"region"`
	Category    string    `yaml:"category"`
	Description string    `yaml:"description"`
}

type auxBoundary struct {
	Name     string                 `yaml:"name"`
	Title    string                 `yaml:"title"`
	AutoLoad *bool                  `yaml:"autoload,omitempty"`
	Filter   map[string]interface{} `yaml:"filter"`
}

func newLayer(l auxLayer) (*LayerDescriptor, error) {
	if strings.TrimSpace(l.Name) == "" {
		return nil, fmt.Errorf("missing name")
	}
	opacity := DefaultOpacity
	if l.Opacity != nil {
		opacity = *l.Opacity
	}
	if opacity < 0 || opacity > 1 {
		return nil, fmt.Errorf("opacity %v out of range [0,1]", opacity)
	}
	bbox, err := parseBound(l.BBox)
	if err != nil {
		return nil, err
	}
	title := l.Title
	if title == "" {
		title = l.Name
	}
	return &LayerDescriptor{
		ID:          l.ID,
		Name:        l.Name,
		Title:       title,
		Type:        parseGeometryType(l.Type),
		Visible:     l.Visible,
		Opacity:     opacity,
		BBox:        bbox,
		Date:        l.Date,
		Region:      l.Region,
		Category:    l.Category,
		Description: strings.TrimSpace(l.Description),
	}, nil
}

func newBoundary(b auxBoundary) (*BoundaryDescriptor, error) {
	if strings.TrimSpace(b.Name) == "" {
		return nil, fmt.Errorf("missing name")
	}
	autoLoad := true
	if b.AutoLoad != nil {
		autoLoad = *b.AutoLoad
	}
	var filter map[string][]string
	for field, v := range b.Filter {
		values := asStrings(v)
		if len(values) == 0 {
			return nil, fmt.Errorf("filter %q has no values", field)
		}
		if filter == nil {
			filter = make(map[string][]string, len(b.Filter))
		}
		filter[field] = values
	}
	return &BoundaryDescriptor{
		Name:     b.Name,
		Title:    b.Title,
		AutoLoad: autoLoad,
		Filter:   filter,
	}, nil
}

func newBasemap(b auxBasemap) (*Basemap, error) {
	if strings.TrimSpace(b.ID) == "" {
		return nil, fmt.Errorf("missing id")
	}
	if b.URL == "" && len(b.Style) == 0 {
		return nil, fmt.Errorf("needs url or style")
	}
	var style map[string]interface{}
	if len(b.Style) > 0 {
		style, _ = stringKeys(b.Style).(map[string]interface{})
	}
	name := b.Name
	if name == "" {
		name = b.ID
	}
	return &Basemap{ID: b.ID, Name: name, URL: b.URL, Style: style, Default: b.Default}, nil
}

func parseBound(v []float64) (*orb.Bound, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != 4 {
		return nil, fmt.Errorf("bbox needs 4 values [minx, miny, maxx, maxy], got %d", len(v))
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return nil, fmt.Errorf("bbox %v is empty or inverted", v)
	}
	return &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// stringKeys converts yaml.v2 maps into JSON compatible maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = stringKeys(val)
		}
		return m
	case []interface{}:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	default:
		return v
	}
}

func asStrings(v interface{}) []string {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	slice, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var result []string
	for i := range slice {
		switch s := slice[i].(type) {
		case string:
			result = append(result, s)
		case int, float64, bool:
			result = append(result, fmt.Sprintf("%v", s))
		default:
			return nil
		}
	}
	return result
}

func Parse(r io.Reader) (*Catalog, error) {
	aux := auxCatalog{}
	input, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(input, &aux); err != nil {
		return nil, err
	}

	c := Catalog{Name: aux.Name}
	if c.Map, err = newMap(aux.Map); err != nil {
		return nil, fmt.Errorf("catalog: map: %w", err)
	}

	ids := map[int]struct{}{}
	names := map[string]struct{}{}
	for i, l := range aux.Layers {
		layer, err := newLayer(l)
		if err != nil {
			return nil, fmt.Errorf("catalog: layer[%d]: %w", i, err)
		}
		if _, dup := ids[layer.ID]; dup {
			return nil, fmt.Errorf("catalog: layer[%d]: duplicate id %d", i, layer.ID)
		}
		if _, dup := names[layer.Name]; dup {
			return nil, fmt.Errorf("catalog: layer[%d]: duplicate name %q", i, layer.Name)
		}
		ids[layer.ID] = struct{}{}
		names[layer.Name] = struct{}{}
		c.Layers = append(c.Layers, *layer)
	}

	boundaryNames := map[string]struct{}{}
	for i, b := range aux.Boundaries {
		boundary, err := newBoundary(b)
		if err != nil {
			return nil, fmt.Errorf("catalog: boundary[%d]: %w", i, err)
		}
		if _, dup := boundaryNames[boundary.Name]; dup {
			return nil, fmt.Errorf("catalog: boundary[%d]: duplicate name %q", i, boundary.Name)
		}
		boundaryNames[boundary.Name] = struct{}{}
		c.Boundaries = append(c.Boundaries, *boundary)
	}

	basemapIDs := map[string]struct{}{}
	defaults := 0
	for i, b := range aux.Basemaps {
		basemap, err := newBasemap(b)
		if err != nil {
			return nil, fmt.Errorf("catalog: basemap[%d]: %w", i, err)
		}
		if _, dup := basemapIDs[basemap.ID]; dup {
			return nil, fmt.Errorf("catalog: basemap[%d]: duplicate id %q", i, basemap.ID)
		}
		if basemap.Default {
			defaults++
		}
		basemapIDs[basemap.ID] = struct{}{}
		c.Basemaps = append(c.Basemaps, *basemap)
	}
	if defaults > 1 {
		return nil, fmt.Errorf("catalog: %d basemaps marked default", defaults)
	}

	return &c, nil
}

func newMap(m auxMap) (Map, error) {
	bounds, err := parseBound(m.Bounds)
	if err != nil {
		return Map{}, err
	}
	r := Map{
		SRS:     m.SRS,
		Bounds:  bounds,
		Zoom:    m.Zoom,
		MinZoom: m.MinZoom,
		MaxZoom: m.MaxZoom,
	}
	if r.SRS == "" {
		r.SRS = "EPSG:3857"
	}
	switch len(m.Center) {
	case 0:
	case 2:
		r.Center = orb.Point{m.Center[0], m.Center[1]}
	default:
		return Map{}, fmt.Errorf("center needs 2 values, got %d", len(m.Center))
	}
	if r.MaxZoom > 0 && r.MinZoom > r.MaxZoom {
		return Map{}, fmt.Errorf("minzoom %v above maxzoom %v", r.MinZoom, r.MaxZoom)
	}
	return r, nil
}

// ParseFile reads and parses the catalog at path.
func ParseFile(path string) (*Catalog, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Parse(r)
}

// DefaultBasemap returns the basemap marked default, or the first one.
func (c *Catalog) DefaultBasemap() (Basemap, bool) {
	for _, b := range c.Basemaps {
		if b.Default {
			return b, true
		}
	}
	if len(c.Basemaps) > 0 {
		return c.Basemaps[0], true
	}
	return Basemap{}, false
}

func (c *Catalog) Basemap(id string) (Basemap, bool) {
	for _, b := range c.Basemaps {
		if b.ID == id {
			return b, true
		}
	}
	return Basemap{}, false
}

func (c *Catalog) Boundary(name string) (BoundaryDescriptor, bool) {
	for _, b := range c.Boundaries {
		if b.Name == name {
			return b, true
		}
	}
	return BoundaryDescriptor{}, false
}

// AutoLoadBoundaries returns the boundaries loaded on startup, in
// declaration order.
func (c *Catalog) AutoLoadBoundaries() []string {
	var names []string
	for _, b := range c.Boundaries {
		if b.AutoLoad {
			names = append(names, b.Name)
		}
	}
	return names
}
