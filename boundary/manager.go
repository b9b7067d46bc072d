// Package boundary materializes WFS boundary overlays on a render surface.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/metrics"
)

const notifySource = "boundary"

// Fetcher loads the feature collection of one feature type.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (*geojson.FeatureCollection, error)
}

type FetcherFunc func(ctx context.Context, name string) (*geojson.FeatureCollection, error)

func (f FetcherFunc) Fetch(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	return f(ctx, name)
}

func SourceID(name string) string       { return "boundary-" + name }
func OutlineLayerID(name string) string { return "boundary-" + name + "-outline" }
func LabelLayerID(name string) string   { return "boundary-" + name + "-labels" }

// Boundary is a materialized boundary. LabelLayerID is empty when the
// features carry no name.
type Boundary struct {
	Name           string
	SourceID       string
	OutlineLayerID string
	LabelLayerID   string
	Color          string
	Features       *geojson.FeatureCollection
}

// LoadResult describes one LoadAll call. Superseded is set when a newer
// load or a reset took over before all names were processed; the
// remaining names were not applied.
type LoadResult struct {
	Generation uint64
	Loaded     []string
	Failed     map[string]error
	Superseded bool
	Err        error
}

// Manager owns the boundary-* sources and layers of one surface.
type Manager struct {
	mu          sync.Mutex
	surface     mapsync.Surface
	fetcher     Fetcher
	style       Style
	concurrency int
	notifier    mapsync.Notifier
	log         zerolog.Logger

	generation uint64
	visible    bool
	order      []string
	loaded     map[string]*Boundary
}

type Option func(*Manager)

func WithStyle(s Style) Option {
	return func(m *Manager) { m.style = s }
}

// WithConcurrency fetches up to n boundaries at once. Boundaries are still
// added to the surface in declaration order.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

func WithNotifier(n mapsync.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func New(surface mapsync.Surface, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		surface:     surface,
		fetcher:     fetcher,
		style:       DefaultStyle,
		concurrency: 1,
		notifier:    mapsync.Discard,
		log:         logging.Component("boundary"),
		visible:     true,
		loaded:      make(map[string]*Boundary),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func NewFromConfig(surface mapsync.Surface, fetcher Fetcher, cfg config.Config, opts ...Option) *Manager {
	base := []Option{
		WithStyle(StyleFromConfig(cfg.Boundary)),
		WithConcurrency(cfg.WFS.Concurrency),
	}
	return New(surface, fetcher, append(base, opts...)...)
}

// LoadAll removes every materialized boundary and loads names in order.
// A failing name is reported and skipped. If another load, RemoveAll,
// Supersede or Invalidate starts before this one is done, the rest of
// this load is discarded.
func (m *Manager) LoadAll(ctx context.Context, names []string) LoadResult {
	return m.Begin(names).Run(ctx)
}

// Load is a boundary load whose generation has been stamped but whose
// fetches have not run yet.
type Load struct {
	m     *Manager
	gen   uint64
	names []string
}

// Begin stamps a new generation and removes every materialized boundary.
// Loads begun earlier stop applying results from this point on, even if
// their Run has not started.
func (m *Manager) Begin(names []string) *Load {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.removeAllLocked()
	return &Load{m: m, gen: m.generation, names: dedupe(names)}
}

func (l *Load) Generation() uint64 {
	return l.gen
}

// Run fetches and materializes the boundaries of the load.
func (l *Load) Run(ctx context.Context) LoadResult {
	m, gen, names := l.m, l.gen, l.names
	res := LoadResult{Generation: gen, Failed: make(map[string]error)}
	log := m.log.With().Uint64("generation", gen).Logger()
	log.Info().Strs("boundaries", names).Msg("loading boundaries")

	if m.concurrency > 1 && len(names) > 1 {
		m.prefetch(ctx, gen, names, &res)
	} else {
		for i, name := range names {
			if err := ctx.Err(); err != nil {
				res.Err = err
				break
			}
			if !m.current(gen) {
				res.Superseded = true
				break
			}
			fc, err := m.fetcher.Fetch(ctx, name)
			if !m.materialize(gen, i, len(names), name, fc, err, &res) {
				res.Superseded = true
				break
			}
		}
	}

	switch {
	case res.Superseded:
		log.Info().Strs("loaded", res.Loaded).Msg("boundary load superseded")
	case res.Err != nil:
		log.Info().Err(res.Err).Strs("loaded", res.Loaded).Msg("boundary load cancelled")
	default:
		log.Info().Strs("loaded", res.Loaded).Int("failed", len(res.Failed)).Msg("boundaries loaded")
	}
	return res
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// prefetch fetches every name concurrently, then materializes the results
// strictly in declaration order.
func (m *Manager) prefetch(ctx context.Context, gen uint64, names []string, res *LoadResult) {
	type fetched struct {
		fc  *geojson.FeatureCollection
		err error
	}
	results := make([]fetched, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			fc, err := m.fetcher.Fetch(gctx, name)
			results[i] = fetched{fc: fc, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if !m.current(gen) {
		res.Superseded = true
		return
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return
	}
	for i, name := range names {
		if !m.materialize(gen, i, len(names), name, results[i].fc, results[i].err, res) {
			res.Superseded = true
			return
		}
	}
}

// materialize applies one fetch result. It reports false when gen is no
// longer current, in which case nothing was applied.
func (m *Manager) materialize(gen uint64, index, total int, name string, fc *geojson.FeatureCollection, fetchErr error, res *LoadResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return false
	}

	if fetchErr != nil {
		res.Failed[name] = fetchErr
		m.log.Warn().Err(fetchErr).Str("boundary", name).Uint64("generation", gen).Msg("boundary fetch failed")
		m.notifier.Notify(mapsync.NewNotification(mapsync.LevelWarn, notifySource,
			fmt.Sprintf("Boundary %q could not be loaded", name), fetchErr))
		return true
	}

	if err := m.add(name, fc, m.style.Color(index, total)); err != nil {
		err = fmt.Errorf("add boundary %s: %w", name, err)
		res.Failed[name] = err
		m.log.Error().Err(err).Str("boundary", name).Uint64("generation", gen).Msg("boundary could not be added")
		m.notifier.Notify(mapsync.NewNotification(mapsync.LevelError, notifySource,
			fmt.Sprintf("Boundary %q could not be added to the map", name), err))
		return true
	}
	res.Loaded = append(res.Loaded, name)
	metrics.SetBoundariesLoaded(len(m.order))
	return true
}

func (m *Manager) add(name string, fc *geojson.FeatureCollection, color string) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	b := &Boundary{
		Name:           name,
		SourceID:       SourceID(name),
		OutlineLayerID: OutlineLayerID(name),
		Color:          color,
		Features:       fc,
	}

	if err := m.surface.AddSource(b.SourceID, mapsync.GeoJSON{Data: fc}); err != nil {
		return err
	}
	if err := m.surface.AddLayer(m.style.outline(b.OutlineLayerID, b.SourceID, color, m.visible)); err != nil {
		m.rollback(b)
		return err
	}
	if hasName(fc) {
		id := LabelLayerID(name)
		if err := m.surface.AddLayer(m.style.labels(id, b.SourceID, m.visible)); err != nil {
			m.rollback(b)
			return err
		}
		b.LabelLayerID = id
	}

	m.loaded[name] = b
	m.order = append(m.order, name)
	m.log.Debug().Str("boundary", name).Int("features", len(fc.Features)).Str("color", color).Msg("added boundary")
	return nil
}

func (m *Manager) rollback(b *Boundary) {
	if err := m.removeFromSurface(b); err != nil {
		m.log.Warn().Err(err).Str("boundary", b.Name).Msg("rolling back boundary failed")
	}
}

// removeFromSurface removes the label, outline and source of b, treating
// absent ids as removed.
func (m *Manager) removeFromSurface(b *Boundary) error {
	var errs []error
	for _, id := range []string{LabelLayerID(b.Name), b.OutlineLayerID} {
		if err := mapsync.IgnoreNotFound(m.surface.RemoveLayer(id)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := mapsync.IgnoreNotFound(m.surface.RemoveSource(b.SourceID)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func hasName(fc *geojson.FeatureCollection) bool {
	if len(fc.Features) == 0 || fc.Features[0] == nil {
		return false
	}
	v, ok := fc.Features[0].Properties["name"]
	return ok && v != nil && v != ""
}

func (m *Manager) removeAllLocked() error {
	var errs []error
	for _, name := range m.order {
		b := m.loaded[name]
		if err := m.removeFromSurface(b); err != nil {
			m.log.Warn().Err(err).Str("boundary", name).Msg("removing boundary failed")
			errs = append(errs, err)
		}
	}
	m.order = nil
	m.loaded = make(map[string]*Boundary)
	metrics.SetBoundariesLoaded(0)
	return errors.Join(errs...)
}

// RemoveAll removes every materialized boundary and cancels the effect of
// a load still in flight.
func (m *Manager) RemoveAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	return m.removeAllLocked()
}

// Invalidate forgets every materialized boundary without touching the
// surface and discards the results of a load in flight.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.order = nil
	m.loaded = make(map[string]*Boundary)
	metrics.SetBoundariesLoaded(0)
}

// Supersede discards the results of a load in flight but keeps the
// registry.
func (m *Manager) Supersede() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
}

// ToggleVisibilityAll sets the layout visibility of every outline and
// label layer. It reports false and does nothing when no boundary is
// materialized.
func (m *Manager) ToggleVisibilityAll(visible bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return false, nil
	}
	m.visible = visible
	value := mapsync.VisibilityValue(visible)

	var errs []error
	for _, name := range m.order {
		b := m.loaded[name]
		for _, id := range []string{b.OutlineLayerID, b.LabelLayerID} {
			if id == "" {
				continue
			}
			if err := m.surface.SetLayoutProperty(id, mapsync.PropVisibility, value); err != nil {
				m.log.Error().Err(err).Str("layer", id).Msg("setting boundary visibility failed")
				errs = append(errs, err)
			}
		}
	}
	return true, errors.Join(errs...)
}

// SetVisible records the visibility used for boundaries added later
// without touching the surface.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	m.visible = visible
	m.mu.Unlock()
}

func (m *Manager) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Loaded returns the materialized boundary names in paint order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

func (m *Manager) Boundaries() []Boundary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Boundary, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.loaded[name])
	}
	return out
}

// Areas returns the polygon areas of every materialized boundary.
func (m *Manager) Areas() []Area {
	var out []Area
	for _, b := range m.Boundaries() {
		out = append(out, FeatureAreas(b.Name, b.Features)...)
	}
	return out
}

func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
