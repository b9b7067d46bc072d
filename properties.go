package mapsync

import (
	"bytes"
	"fmt"
	"sort"
)

// Paint and layout property names understood by the render surface.
const (
	PropRasterOpacity      = "raster-opacity"
	PropRasterFadeDuration = "raster-fade-duration"
	PropLineColor          = "line-color"
	PropLineWidth          = "line-width"
	PropLineOpacity        = "line-opacity"
	PropTextField          = "text-field"
	PropTextSize           = "text-size"
	PropTextAnchor         = "text-anchor"
	PropTextColor          = "text-color"
	PropTextHaloColor      = "text-halo-color"
	PropTextHaloWidth      = "text-halo-width"
	PropVisibility         = "visibility"
)

const (
	Visible = "visible"
	Hidden  = "none"
)

// VisibilityValue maps a boolean onto the layout visibility value.
func VisibilityValue(visible bool) string {
	if visible {
		return Visible
	}
	return Hidden
}

type Value interface{}

type attr struct {
	value Value
	index int
}

// Properties is a paint or layout property set. The zero value is empty and
// ready to use; a nil *Properties behaves as empty for all getters.
type Properties struct {
	values map[string]attr
	next   int
}

func (p *Properties) String() string {
	var buf bytes.Buffer
	buf.WriteString("Properties{")
	for i, k := range p.Keys() {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s: %#v", k, p.values[k].value)
	}
	buf.WriteRune('}')
	return buf.String()
}

func (p *Properties) get(name string) (Value, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[name]
	return v.value, ok
}

func (p *Properties) Get(name string) (Value, bool) {
	return p.get(name)
}

func (p *Properties) IsEmpty() bool {
	return p == nil || len(p.values) == 0
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// Set stores val under name. Overwriting keeps the original position.
func (p *Properties) Set(name string, val Value) {
	if p.values == nil {
		p.values = make(map[string]attr)
	}
	if a, ok := p.values[name]; ok {
		a.value = val
		p.values[name] = a
		return
	}
	p.values[name] = attr{value: val, index: p.next}
	p.next += 1
}

// Keys returns the property names in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return p.values[keys[i]].index < p.values[keys[j]].index
	})
	return keys
}

func (p *Properties) Clone() *Properties {
	if p == nil {
		return nil
	}
	result := &Properties{values: make(map[string]attr, len(p.values)), next: p.next}
	for k, v := range p.values {
		result.values[k] = v
	}
	return result
}

// Equal reports whether both sets hold the same names and values.
func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	for _, k := range p.Keys() {
		a, _ := p.get(k)
		b, ok := o.get(k)
		if !ok || fmt.Sprintf("%#v", a) != fmt.Sprintf("%#v", b) {
			return false
		}
	}
	return true
}

func (p *Properties) GetBool(property string) (bool, bool) {
	v, ok := p.get(property)
	if !ok {
		return false, false
	}
	r, ok := v.(bool)
	return r, ok
}

func (p *Properties) GetString(property string) (string, bool) {
	v, ok := p.get(property)
	if !ok {
		return "", false
	}
	r, ok := v.(string)
	return r, ok
}

func (p *Properties) GetFloat(property string) (float64, bool) {
	v, ok := p.get(property)
	if !ok {
		return 0, false
	}
	switch r := v.(type) {
	case float64:
		return r, true
	case float32:
		return float64(r), true
	case int:
		return float64(r), true
	}
	return 0, false
}

func (p *Properties) GetStringList(property string) ([]string, bool) {
	v, ok := p.get(property)
	if !ok {
		return nil, false
	}
	if s, ok := v.(string); ok {
		return []string{s}, true
	}
	if s, ok := v.([]string); ok {
		return s, true
	}
	l, ok := v.([]Value)
	if !ok {
		return nil, false
	}
	strs := make([]string, len(l))
	for i := range l {
		strs[i], ok = l[i].(string)
		if !ok {
			return nil, false
		}
	}
	return strs, true
}

// NewProperties builds a property set from alternating name/value pairs.
func NewProperties(kv ...interface{}) *Properties {
	r := &Properties{}
	r.values = make(map[string]attr)
	for i := 0; i < (len(kv) - 1); i += 2 {
		k := kv[i].(string)
		r.Set(k, kv[i+1])
	}
	return r
}
