// Package raster keeps the WMS raster overlays on a render surface in line
// with the declared layer list.
package raster

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/metrics"
	"github.com/flywave/go-mapsync/wms"
)

const notifySource = "raster"

func SourceID(id int) string {
	return fmt.Sprintf("wms-source-%d", id)
}

func LayerID(id int) string {
	return fmt.Sprintf("wms-layer-%d", id)
}

// Materialized is a raster descriptor that currently has a source and a
// layer on the surface.
type Materialized struct {
	Descriptor mapsync.LayerDescriptor
	SourceID   string
	LayerID    string
}

// Reconciler owns the wms-* sources and layers of one surface.
type Reconciler struct {
	mu       sync.Mutex
	surface  mapsync.Surface
	endpoint wms.Endpoint
	fade     time.Duration
	fit      mapsync.FitOptions
	notifier mapsync.Notifier
	log      zerolog.Logger

	order  []int
	layers map[int]*Materialized
}

type Option func(*Reconciler)

func WithNotifier(n mapsync.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

func WithFitOptions(o mapsync.FitOptions) Option {
	return func(r *Reconciler) { r.fit = o }
}

// WithFadeDuration sets the raster-fade-duration paint property of new
// layers.
func WithFadeDuration(d time.Duration) Option {
	return func(r *Reconciler) { r.fade = d }
}

func New(surface mapsync.Surface, endpoint wms.Endpoint, opts ...Option) *Reconciler {
	r := &Reconciler{
		surface:  surface,
		endpoint: endpoint,
		fade:     300 * time.Millisecond,
		fit:      mapsync.DefaultFitOptions,
		notifier: mapsync.Discard,
		log:      logging.Component("raster"),
		layers:   make(map[int]*Materialized),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func NewFromConfig(surface mapsync.Surface, cfg config.Config, opts ...Option) *Reconciler {
	base := []Option{
		WithFadeDuration(cfg.WMS.FadeDuration.Duration),
		WithFitOptions(mapsync.FitOptions{Padding: cfg.View.FitPadding, Duration: cfg.View.FitDuration.Duration}),
	}
	return New(surface, wms.FromConfig(cfg), append(base, opts...)...)
}

// Reconcile applies the minimal set of surface mutations that makes the
// materialized raster layers equal to the visible descriptors of declared.
// Stale layers are removed first, then new layers are added in declared
// order; opacity changes are applied in place. Removing an id the surface
// no longer knows counts as success. Any other failure is logged, reported
// and returned, and the reconciler keeps going with the next descriptor.
func (r *Reconciler) Reconcile(declared mapsync.LayerSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	metrics.RecordRasterReconcile()

	wanted := make(map[int]mapsync.LayerDescriptor)
	var visible []mapsync.LayerDescriptor
	for _, d := range declared {
		if !d.Visible {
			continue
		}
		if _, dup := wanted[d.ID]; dup {
			continue
		}
		wanted[d.ID] = d
		visible = append(visible, d)
	}

	var errs []error
	for _, id := range append([]int(nil), r.order...) {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := r.remove(id); err != nil {
			errs = append(errs, err)
		}
	}

	for _, d := range visible {
		m, ok := r.layers[d.ID]
		if !ok {
			if err := r.add(d); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := r.update(m, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) remove(id int) error {
	m := r.layers[id]
	if err := mapsync.IgnoreNotFound(r.surface.RemoveLayer(m.LayerID)); err != nil {
		r.log.Error().Err(err).Int("layer_id", id).Msg("removing raster layer failed")
		return err
	}
	if err := mapsync.IgnoreNotFound(r.surface.RemoveSource(m.SourceID)); err != nil {
		r.log.Error().Err(err).Int("layer_id", id).Msg("removing raster source failed")
		return err
	}
	r.forget(id)
	r.log.Debug().Int("layer_id", id).Str("name", m.Descriptor.Name).Msg("removed raster layer")
	return nil
}

func (r *Reconciler) add(d mapsync.LayerDescriptor) error {
	m := &Materialized{Descriptor: d, SourceID: SourceID(d.ID), LayerID: LayerID(d.ID)}

	if err := r.surface.AddSource(m.SourceID, r.endpoint.Source(d.Name)); err != nil {
		return r.addFailed(d, err)
	}
	layer := mapsync.StyleLayer{
		ID:     m.LayerID,
		Type:   mapsync.RasterLayer,
		Source: m.SourceID,
		Paint: mapsync.NewProperties(
			mapsync.PropRasterOpacity, d.ClampedOpacity(),
			mapsync.PropRasterFadeDuration, int(r.fade/time.Millisecond),
		),
	}
	if err := r.surface.AddLayer(layer); err != nil {
		if rerr := mapsync.IgnoreNotFound(r.surface.RemoveSource(m.SourceID)); rerr != nil {
			r.log.Warn().Err(rerr).Str("source", m.SourceID).Msg("rolling back raster source failed")
		}
		return r.addFailed(d, err)
	}

	r.layers[d.ID] = m
	r.order = append(r.order, d.ID)
	r.log.Debug().Int("layer_id", d.ID).Str("name", d.Name).Float64("opacity", d.ClampedOpacity()).Msg("added raster layer")
	return nil
}

func (r *Reconciler) addFailed(d mapsync.LayerDescriptor, err error) error {
	err = fmt.Errorf("add raster layer %d (%s): %w", d.ID, d.Name, err)
	r.log.Error().Err(err).Int("layer_id", d.ID).Str("name", d.Name).Msg("raster layer could not be added")
	r.notifier.Notify(mapsync.NewNotification(mapsync.LevelError, notifySource,
		fmt.Sprintf("Layer %q could not be added to the map", title(d)), err))
	return err
}

func (r *Reconciler) update(m *Materialized, d mapsync.LayerDescriptor) error {
	if d.Name != m.Descriptor.Name {
		// The tile URL is baked into the source; a renamed layer needs a new one.
		r.log.Debug().Int("layer_id", d.ID).Str("from", m.Descriptor.Name).Str("name", d.Name).Msg("raster layer renamed, replacing")
		if err := r.remove(d.ID); err != nil {
			return err
		}
		return r.add(d)
	}
	if d.ClampedOpacity() != m.Descriptor.ClampedOpacity() {
		err := r.surface.SetPaintProperty(m.LayerID, mapsync.PropRasterOpacity, d.ClampedOpacity())
		if mapsync.IsNotFound(err) {
			// The layer vanished behind our back; build it again.
			r.log.Warn().Int("layer_id", d.ID).Msg("raster layer missing on surface, re-adding")
			if rerr := mapsync.IgnoreNotFound(r.surface.RemoveSource(m.SourceID)); rerr != nil {
				r.log.Warn().Err(rerr).Str("source", m.SourceID).Msg("removing orphaned raster source failed")
			}
			r.forget(d.ID)
			return r.add(d)
		}
		if err != nil {
			err = fmt.Errorf("set opacity of raster layer %d: %w", d.ID, err)
			r.log.Error().Err(err).Int("layer_id", d.ID).Msg("raster opacity update failed")
			return err
		}
	}
	m.Descriptor = d
	return nil
}

func (r *Reconciler) forget(id int) {
	delete(r.layers, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Invalidate forgets every materialized layer without touching the
// surface. It is called once a style swap has wiped the surface.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	r.order = nil
	r.layers = make(map[int]*Materialized)
	r.mu.Unlock()
}

// Clear removes every layer the reconciler owns.
func (r *Reconciler) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, id := range append([]int(nil), r.order...) {
		if err := r.remove(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Materialized returns the materialized layers in the order they were
// added.
func (r *Reconciler) Materialized() []Materialized {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Materialized, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.layers[id])
	}
	return out
}

// MaterializedIDs returns the descriptor ids in the order they were added.
func (r *Reconciler) MaterializedIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int{}, r.order...)
}

// ZoomToBounds moves the viewport to the bounding box of d. It does
// nothing when d has no box.
func (r *Reconciler) ZoomToBounds(d mapsync.LayerDescriptor) error {
	if d.BBox == nil {
		return nil
	}
	return r.surface.FitBounds(*d.BBox, r.fit)
}

// FitVisible moves the viewport to the union of the boxes of the visible
// layers. It reports false when none of them has a box.
func (r *Reconciler) FitVisible(layers mapsync.LayerSet) (bool, error) {
	b, ok := layers.Bounds()
	if !ok {
		return false, nil
	}
	return true, r.surface.FitBounds(b, r.fit)
}

func title(d mapsync.LayerDescriptor) string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}
