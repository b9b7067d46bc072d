// Package memsurface is an in-memory render surface. It keeps sources and
// layers the way a live map does, wipes them on SetStyle, and records every
// call so tests and dry runs can inspect what the engine did.
package memsurface

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	mapsync "github.com/flywave/go-mapsync"
)

type OpKind string

const (
	OpAddSource    OpKind = "add-source"
	OpRemoveSource OpKind = "remove-source"
	OpAddLayer     OpKind = "add-layer"
	OpRemoveLayer  OpKind = "remove-layer"
	OpSetPaint     OpKind = "set-paint"
	OpSetLayout    OpKind = "set-layout"
	OpSetStyle     OpKind = "set-style"
	OpFitBounds    OpKind = "fit-bounds"
)

// Op is one recorded surface call. Loading is set when the call arrived
// while a style was still loading.
type Op struct {
	Kind    OpKind
	ID      string
	Name    string
	Value   mapsync.Value
	Loading bool
	Err     error
}

func (o Op) String() string {
	s := string(o.Kind)
	if o.ID != "" {
		s += " " + o.ID
	}
	if o.Name != "" {
		s += fmt.Sprintf(" %s=%v", o.Name, o.Value)
	}
	if o.Err != nil {
		s += " ! " + o.Err.Error()
	}
	return s
}

// Viewport is the last FitBounds request.
type Viewport struct {
	Bounds  orb.Bound
	Options mapsync.FitOptions
}

type injected struct {
	kind OpKind
	id   string
	err  error
}

// Surface implements mapsync.Surface in memory. It is safe for concurrent
// use. Style-ready handlers never run with the surface lock held.
type Surface struct {
	mu        sync.Mutex
	sources   map[string]mapsync.Source
	layers    []mapsync.StyleLayer
	style     mapsync.StyleRef
	loading   bool
	autoReady bool
	ops       []Op
	handlers  map[int]func(mapsync.StyleEvent)
	nextID    int
	viewport  *Viewport
	failures  []injected
}

type Option func(*Surface)

// WithAutoReady makes SetStyle signal style readiness synchronously,
// before it returns.
func WithAutoReady() Option {
	return func(s *Surface) { s.autoReady = true }
}

// WithStyle sets the initial, already loaded style.
func WithStyle(style mapsync.StyleRef) Option {
	return func(s *Surface) { s.style = style }
}

func New(opts ...Option) *Surface {
	s := &Surface{
		sources:  make(map[string]mapsync.Source),
		handlers: make(map[int]func(mapsync.StyleEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of kind on id fail with err. An empty id
// matches any id.
func (s *Surface) FailNext(kind OpKind, id string, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, injected{kind: kind, id: id, err: err})
	s.mu.Unlock()
}

func (s *Surface) injectedErr(kind OpKind, id string) error {
	for i, f := range s.failures {
		if f.kind == kind && (f.id == "" || f.id == id) {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

// record appends op and returns err. Must be called with mu held.
func (s *Surface) record(op Op, err error) error {
	op.Loading = s.loading
	op.Err = err
	s.ops = append(s.ops, op)
	return err
}

// check applies injected failures and the style loading guard.
func (s *Surface) check(kind OpKind, obj mapsync.ObjectKind, id string) error {
	if err := s.injectedErr(kind, id); err != nil {
		return err
	}
	if s.loading {
		return &mapsync.SurfaceStateError{Op: string(kind), Kind: obj, ID: id, Err: mapsync.ErrStyleLoading}
	}
	return nil
}

func (s *Surface) layerIndex(id string) int {
	for i := range s.layers {
		if s.layers[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Surface) AddSource(id string, src mapsync.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: OpAddSource, ID: id}
	if err := s.check(OpAddSource, mapsync.SourceObject, id); err != nil {
		return s.record(op, err)
	}
	if _, ok := s.sources[id]; ok {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(OpAddSource), Kind: mapsync.SourceObject, ID: id, Err: mapsync.ErrExists})
	}
	if rt, ok := src.(mapsync.RasterTiles); ok {
		if len(rt.Tiles) == 0 {
			return s.record(op, fmt.Errorf("source %q: no tile templates", id))
		}
		for _, tmpl := range rt.Tiles {
			if err := mapsync.ValidateTileTemplate(tmpl); err != nil {
				return s.record(op, fmt.Errorf("source %q: %w", id, err))
			}
		}
	}
	s.sources[id] = src
	return s.record(op, nil)
}

// RemoveSource fails while a layer still uses the source, as a live map
// does.
func (s *Surface) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: OpRemoveSource, ID: id}
	if err := s.check(OpRemoveSource, mapsync.SourceObject, id); err != nil {
		return s.record(op, err)
	}
	if _, ok := s.sources[id]; !ok {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(OpRemoveSource), Kind: mapsync.SourceObject, ID: id, Err: mapsync.ErrNotFound})
	}
	for _, l := range s.layers {
		if l.Source == id {
			return s.record(op, fmt.Errorf("source %q is in use by layer %q", id, l.ID))
		}
	}
	delete(s.sources, id)
	return s.record(op, nil)
}

func (s *Surface) AddLayer(layer mapsync.StyleLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: OpAddLayer, ID: layer.ID}
	if err := s.check(OpAddLayer, mapsync.LayerObject, layer.ID); err != nil {
		return s.record(op, err)
	}
	if s.layerIndex(layer.ID) >= 0 {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(OpAddLayer), Kind: mapsync.LayerObject, ID: layer.ID, Err: mapsync.ErrExists})
	}
	if _, ok := s.sources[layer.Source]; !ok {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(OpAddLayer), Kind: mapsync.SourceObject, ID: layer.Source, Err: mapsync.ErrNotFound})
	}
	s.layers = append(s.layers, layer.Clone())
	return s.record(op, nil)
}

func (s *Surface) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: OpRemoveLayer, ID: id}
	if err := s.check(OpRemoveLayer, mapsync.LayerObject, id); err != nil {
		return s.record(op, err)
	}
	i := s.layerIndex(id)
	if i < 0 {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(OpRemoveLayer), Kind: mapsync.LayerObject, ID: id, Err: mapsync.ErrNotFound})
	}
	s.layers = append(s.layers[:i], s.layers[i+1:]...)
	return s.record(op, nil)
}

func (s *Surface) SetPaintProperty(layerID, name string, value mapsync.Value) error {
	return s.setProperty(OpSetPaint, layerID, name, value)
}

func (s *Surface) SetLayoutProperty(layerID, name string, value mapsync.Value) error {
	return s.setProperty(OpSetLayout, layerID, name, value)
}

func (s *Surface) setProperty(kind OpKind, layerID, name string, value mapsync.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: kind, ID: layerID, Name: name, Value: value}
	if err := s.check(kind, mapsync.LayerObject, layerID); err != nil {
		return s.record(op, err)
	}
	i := s.layerIndex(layerID)
	if i < 0 {
		return s.record(op, &mapsync.SurfaceStateError{Op: string(kind), Kind: mapsync.LayerObject, ID: layerID, Err: mapsync.ErrNotFound})
	}
	l := &s.layers[i]
	if kind == OpSetPaint {
		if l.Paint == nil {
			l.Paint = &mapsync.Properties{}
		}
		l.Paint.Set(name, value)
	} else {
		if l.Layout == nil {
			l.Layout = &mapsync.Properties{}
		}
		l.Layout.Set(name, value)
	}
	return s.record(op, nil)
}

// SetStyle drops every source and layer and starts loading style. Unless
// the surface was created WithAutoReady, readiness is signalled by
// CompleteStyleLoad.
func (s *Surface) SetStyle(style mapsync.StyleRef) error {
	s.mu.Lock()
	op := Op{Kind: OpSetStyle, ID: style.Key}
	if err := s.injectedErr(OpSetStyle, style.Key); err != nil {
		err = s.record(op, err)
		s.mu.Unlock()
		return err
	}
	s.sources = make(map[string]mapsync.Source)
	s.layers = nil
	s.style = style
	s.loading = true
	s.record(op, nil)
	auto := s.autoReady
	s.mu.Unlock()

	if auto {
		s.CompleteStyleLoad()
	}
	return nil
}

// CompleteStyleLoad finishes the pending style load and runs the
// style-ready handlers. It reports false when no load was pending.
func (s *Surface) CompleteStyleLoad() bool {
	s.mu.Lock()
	if !s.loading {
		s.mu.Unlock()
		return false
	}
	s.loading = false
	ev := mapsync.StyleEvent{Key: s.style.Key}
	handlers := s.handlerList()
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return true
}

// EmitStyleReady runs the handlers with an arbitrary event, loaded or not.
// It emulates late or duplicate signals from the renderer.
func (s *Surface) EmitStyleReady(ev mapsync.StyleEvent) {
	s.mu.Lock()
	handlers := s.handlerList()
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (s *Surface) handlerList() []func(mapsync.StyleEvent) {
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(mapsync.StyleEvent), len(ids))
	for i, id := range ids {
		fns[i] = s.handlers[id]
	}
	return fns
}

func (s *Surface) OnStyleReady(fn func(mapsync.StyleEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *Surface) HasLayer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerIndex(id) >= 0
}

func (s *Surface) HasSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sources[id]
	return ok
}

func (s *Surface) FitBounds(bounds orb.Bound, opts mapsync.FitOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := Op{Kind: OpFitBounds, Value: bounds}
	if err := s.injectedErr(OpFitBounds, ""); err != nil {
		return s.record(op, err)
	}
	s.viewport = &Viewport{Bounds: bounds, Options: opts}
	return s.record(op, nil)
}

// Layers returns the layer ids in paint order, bottom first.
func (s *Surface) Layers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.layers))
	for i := range s.layers {
		ids[i] = s.layers[i].ID
	}
	return ids
}

// Layer returns a copy of the layer with id.
func (s *Surface) Layer(id string) (mapsync.StyleLayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return mapsync.StyleLayer{}, false
	}
	return s.layers[i].Clone(), true
}

// Sources returns the sorted source ids.
func (s *Surface) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Surface) Source(id string) (mapsync.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	return src, ok
}

func (s *Surface) Style() mapsync.StyleRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

func (s *Surface) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Surface) Viewport() (Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewport == nil {
		return Viewport{}, false
	}
	return *s.viewport, true
}

// Ops returns the recorded calls in order.
func (s *Surface) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *Surface) ResetOps() {
	s.mu.Lock()
	s.ops = nil
	s.mu.Unlock()
}

// CountOps counts recorded calls of the given kinds; no kinds counts
// every call.
func (s *Surface) CountOps(kinds ...OpKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if len(kinds) == 0 {
			n++
			continue
		}
		for _, k := range kinds {
			if op.Kind == k {
				n++
				break
			}
		}
	}
	return n
}

// MutationsWhileLoading returns the mutations that reached the surface
// while a style was loading.
func (s *Surface) MutationsWhileLoading() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Op
	for _, op := range s.ops {
		if op.Loading && op.Kind != OpSetStyle && op.Kind != OpFitBounds {
			out = append(out, op)
		}
	}
	return out
}
