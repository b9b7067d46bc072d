package builder

import (
	"context"
	"errors"
	"net/http"
	"reflect"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/boundary"
	"github.com/flywave/go-mapsync/config"
	"github.com/flywave/go-mapsync/coordinator"
	"github.com/flywave/go-mapsync/metrics"
	"github.com/flywave/go-mapsync/raster"
	"github.com/flywave/go-mapsync/wfs"
)

var ErrNoCatalog = errors.New("builder: no catalog")

// Builder assembles a Dashboard for one render surface from a catalog
// and the engine configuration.
type Builder struct {
	surface     mapsync.Surface
	catalog     *mapsync.Catalog
	catalogFile string
	cfg         config.Config
	notifier    mapsync.Notifier
	httpClient  *http.Client
	fetcher     boundary.Fetcher
	instrument  bool
}

// New returns a Builder with the default configuration.
func New(surface mapsync.Surface) *Builder {
	return &Builder{surface: surface, cfg: config.Default(), instrument: true}
}

// SetCatalog sets the catalog. It takes precedence over SetCatalogFile.
func (b *Builder) SetCatalog(c *mapsync.Catalog) {
	b.catalog = c
}

// SetCatalogFile sets the path of the YAML catalog.
func (b *Builder) SetCatalogFile(path string) {
	b.catalogFile = path
}

func (b *Builder) SetConfig(cfg config.Config) {
	b.cfg = cfg
}

// SetNotifier sets where user-facing notifications go in addition to the
// dashboard banner.
func (b *Builder) SetNotifier(n mapsync.Notifier) {
	b.notifier = n
}

// SetHTTPClient sets the client used for WFS requests.
func (b *Builder) SetHTTPClient(c *http.Client) {
	b.httpClient = c
}

// SetFetcher replaces the WFS client.
func (b *Builder) SetFetcher(f boundary.Fetcher) {
	b.fetcher = f
}

// SetInstrument sets whether surface mutations are counted in metrics.
func (b *Builder) SetInstrument(instrument bool) {
	b.instrument = instrument
}

// Build wires fetcher, reconcilers and coordinator. The dashboard is not
// started.
func (b *Builder) Build() (*Dashboard, error) {
	if err := config.Validate(b.cfg); err != nil {
		return nil, err
	}
	cat := b.catalog
	if cat == nil {
		if b.catalogFile == "" {
			return nil, ErrNoCatalog
		}
		var err error
		cat, err = mapsync.ParseFile(b.catalogFile)
		if err != nil {
			return nil, err
		}
	}

	surface := b.surface
	if b.instrument {
		surface = metrics.InstrumentSurface(surface)
	}
	banner := mapsync.NewBanner(b.notifier)

	fetcher := b.fetcher
	if fetcher == nil {
		var opts []wfs.Option
		if b.httpClient != nil {
			opts = append(opts, wfs.WithHTTPClient(b.httpClient))
		}
		fetcher = wfs.NewClientFromConfig(b.cfg, cat.Boundaries, opts...)
	}

	r := raster.NewFromConfig(surface, b.cfg, raster.WithNotifier(banner))
	m := boundary.NewFromConfig(surface, fetcher, b.cfg, boundary.WithNotifier(banner))
	c := coordinator.New(surface, r, m,
		coordinator.WithBasemaps(cat.Basemaps),
		coordinator.WithBanner(banner),
	)
	return &Dashboard{
		Catalog:     cat,
		Config:      b.cfg,
		Banner:      banner,
		Coordinator: c,
		Fetcher:     fetcher,
	}, nil
}

// Dashboard is a built engine bound to one surface.
type Dashboard struct {
	Catalog     *mapsync.Catalog
	Config      config.Config
	Banner      *mapsync.Banner
	Coordinator *coordinator.Coordinator
	Fetcher     boundary.Fetcher
}

// Start materializes the catalog layers and the auto-loaded boundaries on
// a surface showing the default basemap.
func (d *Dashboard) Start(ctx context.Context) error {
	basemap := ""
	if bm, ok := d.Catalog.DefaultBasemap(); ok {
		basemap = bm.ID
	}
	return d.Coordinator.Start(ctx, basemap, d.Catalog.Layers, d.Catalog.AutoLoadBoundaries())
}

// Apply moves the dashboard to a new catalog. Layers are reconciled;
// boundaries are reloaded only when the auto-loaded set changed.
func (d *Dashboard) Apply(cat *mapsync.Catalog) error {
	prev := d.Catalog
	d.Catalog = cat
	d.Coordinator.SetBasemaps(cat.Basemaps)

	err := d.Coordinator.SetLayers(cat.Layers)
	if !reflect.DeepEqual(prev.AutoLoadBoundaries(), cat.AutoLoadBoundaries()) {
		err = errors.Join(err, d.Coordinator.LoadBoundaries(cat.AutoLoadBoundaries()))
	}
	return err
}

// Close stops the coordinator and waits for background loads.
func (d *Dashboard) Close() {
	d.Coordinator.Close()
}
