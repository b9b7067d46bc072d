// Package coordinator drives basemap swaps on a render surface and
// re-materializes the raster and boundary overlays once the new style is
// ready.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/boundary"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/metrics"
	"github.com/flywave/go-mapsync/raster"
)

var (
	ErrUnknownBasemap = errors.New("coordinator: unknown basemap")
	ErrUnknownLayer   = errors.New("coordinator: unknown layer")
	ErrNotStarted     = errors.New("coordinator: not started")
	ErrStarted        = errors.New("coordinator: already started")
	ErrClosed         = errors.New("coordinator: closed")
)

type State int

const (
	// Idle: the applied basemap is the target one.
	Idle State = iota
	// Swapping: a style change was issued and the surface is rebuilding.
	Swapping
	// Reconciling: the surface reported the new style; overlays are being
	// re-materialized.
	Reconciling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Swapping:
		return "swapping"
	case Reconciling:
		return "reconciling"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Coordinator owns the raster reconciler and the boundary manager of one
// surface for the lifetime of that surface. Overlay mutations are held
// back while a style swap is pending and applied with the declared state
// current at the time the surface reports readiness.
type Coordinator struct {
	mu       sync.Mutex
	surface  mapsync.Surface
	raster   *raster.Reconciler
	bounds   *boundary.Manager
	basemaps map[string]mapsync.Basemap
	banner   *mapsync.Banner
	log      zerolog.Logger

	started   bool
	state     State
	current   string
	target    string
	targetKey string

	layers     mapsync.LayerSet
	boundaries []string
	visible    bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	// taskMu guards closed against wg.Add racing with Close.
	taskMu sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Coordinator)

func WithBasemaps(bms []mapsync.Basemap) Option {
	return func(c *Coordinator) {
		for _, b := range bms {
			c.basemaps[b.ID] = b
		}
	}
}

// WithBanner sets the banner that shows failed basemap swaps.
func WithBanner(b *mapsync.Banner) Option {
	return func(c *Coordinator) { c.banner = b }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func New(surface mapsync.Surface, r *raster.Reconciler, b *boundary.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		surface:  surface,
		raster:   r,
		bounds:   b,
		basemaps: make(map[string]mapsync.Basemap),
		log:      logging.Component("coordinator"),
		visible:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.banner == nil {
		c.banner = mapsync.NewBanner(mapsync.Discard)
	}
	return c
}

// Start binds the coordinator to a surface that is ready and shows the
// style of basemap. It materializes layers and loads boundaries. An empty
// basemap means the surface shows a style the coordinator does not know.
func (c *Coordinator) Start(ctx context.Context, basemap string, layers mapsync.LayerSet, boundaries []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.started {
		return ErrStarted
	}
	key := ""
	if basemap != "" {
		bm, ok := c.basemaps[basemap]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownBasemap, basemap)
		}
		key = bm.StyleRef().Key
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.unsubscribe = c.surface.OnStyleReady(c.onStyleReady)
	c.started = true
	c.state = Idle
	c.current, c.target, c.targetKey = basemap, basemap, key
	c.layers = layers
	c.boundaries = append([]string(nil), boundaries...)
	c.bounds.SetVisible(c.visible)

	c.log.Info().Str("basemap", basemap).Int("layers", len(layers.Visible())).Strs("boundaries", boundaries).Msg("coordinator started")
	err := c.raster.Reconcile(layers)
	c.loadBoundariesLocked()
	return err
}

// SetBasemaps replaces the known basemaps. The basemap on screen keeps
// showing even when it is no longer listed.
func (c *Coordinator) SetBasemaps(bms []mapsync.Basemap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basemaps = make(map[string]mapsync.Basemap, len(bms))
	for _, b := range bms {
		c.basemaps[b.ID] = b
	}
}

// SetLayers records the declared raster layers. They are applied right
// away when no style swap is pending, otherwise once the new style is
// ready.
func (c *Coordinator) SetLayers(layers mapsync.LayerSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.layers = layers
	if c.state != Idle {
		c.log.Debug().Stringer("state", c.state).Msg("style swap pending, deferring raster reconcile")
		return nil
	}
	return c.raster.Reconcile(layers)
}

func (c *Coordinator) Layers() mapsync.LayerSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layers
}

// SetBasemap swaps the surface style to the basemap with id. Only the
// latest requested basemap matters: a request made while a swap is
// pending restarts the swap toward the new target.
func (c *Coordinator) SetBasemap(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	bm, ok := c.basemaps[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBasemap, id)
	}
	if id == c.target {
		return nil
	}
	style := bm.StyleRef()
	log := c.log.With().Str("basemap", id).Str("from", c.current).Logger()

	// Stop any boundary load from touching the surface from here on.
	c.bounds.Supersede()
	if err := c.surface.SetStyle(style); err != nil {
		metrics.RecordStyleSwap("failed")
		log.Error().Err(err).Msg("basemap swap failed")
		c.banner.Notify(mapsync.NewNotification(mapsync.LevelError, "basemap",
			fmt.Sprintf("Basemap %q could not be loaded", bm.Name), err))
		if c.state == Idle {
			// The old style is still in place; restore the superseded load.
			c.loadBoundariesLocked()
		}
		return fmt.Errorf("set basemap %s: %w", id, err)
	}

	c.raster.Invalidate()
	c.bounds.Invalidate()
	c.target, c.targetKey = id, style.Key
	c.state = Swapping
	metrics.RecordStyleSwap("issued")
	log.Info().Msg("basemap swap issued")
	return nil
}

// onStyleReady runs on whatever goroutine the surface uses, possibly
// inside SetStyle, so the work is handed off.
func (c *Coordinator) onStyleReady(ev mapsync.StyleEvent) {
	c.goTask(func() { c.handleStyleReady(ev) })
}

func (c *Coordinator) handleStyleReady(ev mapsync.StyleEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return
	}
	if c.state != Swapping || ev.Key != c.targetKey {
		c.log.Debug().Str("style", ev.Key).Str("target", c.targetKey).Stringer("state", c.state).Msg("ignoring style ready event")
		return
	}

	c.state = Reconciling
	c.current = c.target
	log := c.log.With().Str("basemap", c.current).Logger()
	log.Info().Msg("style ready, re-materializing overlays")

	if err := c.raster.Reconcile(c.layers); err != nil {
		log.Error().Err(err).Msg("raster re-materialization incomplete")
	}
	c.loadBoundariesLocked()

	c.state = Idle
	metrics.RecordStyleSwap("completed")
}

// loadBoundariesLocked stamps a boundary load for the declared names and
// runs it in the background. The load is stamped before returning so a
// later swap can discard it.
func (c *Coordinator) loadBoundariesLocked() {
	load := c.bounds.Begin(c.boundaries)
	if len(c.boundaries) == 0 {
		return
	}
	ctx := c.ctx
	c.goTask(func() {
		res := load.Run(ctx)
		if len(res.Failed) > 0 {
			c.log.Warn().Int("failed", len(res.Failed)).Strs("loaded", res.Loaded).Msg("some boundaries failed to load")
		}
	})
}

// LoadBoundaries replaces the declared boundary names and loads them.
// While a swap is pending they are loaded once the style is ready.
func (c *Coordinator) LoadBoundaries(names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.boundaries = append([]string(nil), names...)
	if c.state != Idle {
		return nil
	}
	c.loadBoundariesLocked()
	return nil
}

// RemoveBoundaries removes every boundary and clears the declared names.
func (c *Coordinator) RemoveBoundaries() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.boundaries = nil
	if c.state != Idle {
		c.bounds.Supersede()
		return nil
	}
	return c.bounds.RemoveAll()
}

// SetBoundariesVisible shows or hides every boundary. The flag also
// applies to boundaries loaded later.
func (c *Coordinator) SetBoundariesVisible(visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	return c.setBoundariesVisibleLocked(visible)
}

// ToggleBoundaries flips the boundary visibility and returns the new
// value.
func (c *Coordinator) ToggleBoundaries() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return c.visible, err
	}
	visible := !c.visible
	return visible, c.setBoundariesVisibleLocked(visible)
}

func (c *Coordinator) setBoundariesVisibleLocked(visible bool) error {
	c.visible = visible
	c.bounds.SetVisible(visible)
	if c.state != Idle {
		return nil
	}
	_, err := c.bounds.ToggleVisibilityAll(visible)
	return err
}

func (c *Coordinator) BoundariesVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// LoadedBoundaries returns the names of the boundaries on the surface in
// paint order.
func (c *Coordinator) LoadedBoundaries() []string {
	return c.bounds.Loaded()
}

// ZoomToLayer moves the viewport to the box of the declared layer id.
func (c *Coordinator) ZoomToLayer(id int) error {
	c.mu.Lock()
	d, ok := c.layers.ByID(id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLayer, id)
	}
	return c.raster.ZoomToBounds(d)
}

// FitVisible moves the viewport to the union of the visible layer boxes.
func (c *Coordinator) FitVisible() (bool, error) {
	c.mu.Lock()
	layers := c.layers
	c.mu.Unlock()
	return c.raster.FitVisible(layers)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Basemap returns the basemap currently shown and the one being swapped
// to. Both are equal when Idle.
func (c *Coordinator) Basemap() (current, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.target
}

func (c *Coordinator) Banner() *mapsync.Banner {
	return c.banner
}

func (c *Coordinator) Raster() *raster.Reconciler {
	return c.raster
}

func (c *Coordinator) Boundaries() *boundary.Manager {
	return c.bounds
}

// Wait blocks until every background task dispatched so far is done.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close detaches from the surface, cancels background loads and waits for
// them. The surface is left as is.
func (c *Coordinator) Close() {
	c.taskMu.Lock()
	if c.closed {
		c.taskMu.Unlock()
		return
	}
	c.closed = true
	c.taskMu.Unlock()

	// Supersede first so a fetch cut short by cancel is discarded, not
	// reported as a failed load.
	c.bounds.Supersede()

	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info().Msg("coordinator closed")
}

func (c *Coordinator) goTask(fn func()) {
	c.taskMu.Lock()
	if c.closed {
		c.taskMu.Unlock()
		return
	}
	c.wg.Add(1)
	c.taskMu.Unlock()
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Coordinator) isClosed() bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	return c.closed
}

func (c *Coordinator) usable() error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.started {
		return ErrNotStarted
	}
	return nil
}
