// Package wfs fetches boundary feature collections with WFS GetFeature.
package wfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/config"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/metrics"
)

const (
	maxBodySize  = 64 << 20
	maxErrorBody = 4 << 10
)

// Endpoint describes the WFS service of one GeoServer workspace.
type Endpoint struct {
	BaseURL   string
	Workspace string
	Version   string
	Path      string
	SRSName   string
}

func EndpointFromConfig(cfg config.Config) Endpoint {
	return Endpoint{
		BaseURL:   cfg.GeoServer.BaseURL,
		Workspace: cfg.GeoServer.Workspace,
		Version:   cfg.WFS.Version,
		Path:      cfg.WFS.Path,
		SRSName:   cfg.WFS.SRSName,
	}
}

// FeatureURL returns the GetFeature URL for the feature type name. cql is
// sent as CQL_FILTER when not empty.
func (e Endpoint) FeatureURL(name, cql string) string {
	path := strings.Trim(e.Path, "/")
	if path == "" {
		path = "wfs"
	}
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", e.Version)
	q.Set("request", "GetFeature")
	q.Set("typeName", e.Workspace+":"+name)
	q.Set("outputFormat", "application/json")
	if e.SRSName != "" {
		q.Set("srsName", e.SRSName)
	}
	if cql != "" {
		q.Set("CQL_FILTER", cql)
	}
	return strings.TrimRight(e.BaseURL, "/") + "/" + path + "?" + q.Encode()
}

// Client is a BoundaryFetcher backed by HTTP. It performs exactly one
// request per Fetch; it neither retries nor caches.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	limiter    *rate.Limiter
	filters    map[string]string
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit paces requests to at most rps per second.
func WithRateLimit(rps float64) Option {
	return func(cl *Client) {
		if rps > 0 {
			cl.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithFilters sets per feature type property filters.
func WithFilters(filters map[string]map[string][]string) Option {
	return func(cl *Client) {
		for name, f := range filters {
			if s := FilterString(f); s != "" {
				cl.filters[name] = s
			}
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func NewClient(endpoint Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		filters:    make(map[string]string),
		log:        logging.Component("wfs"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from the engine config and the
// catalog boundary filters.
func NewClientFromConfig(cfg config.Config, boundaries []mapsync.BoundaryDescriptor, opts ...Option) *Client {
	filters := make(map[string]map[string][]string)
	for _, b := range boundaries {
		if len(b.Filter) > 0 {
			filters[b.Name] = b.Filter
		}
	}
	base := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.WFS.Timeout.Duration}),
		WithRateLimit(cfg.WFS.RateLimit),
		WithFilters(filters),
	}
	return NewClient(EndpointFromConfig(cfg), append(base, opts...)...)
}

// Fetch retrieves the feature collection of the feature type name.
func (c *Client) Fetch(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	start := time.Now()
	fc, err := c.fetch(ctx, name)
	outcome := "success"
	var fe *mapsync.FetchError
	if errors.As(err, &fe) {
		outcome = fe.Kind.String()
	}
	metrics.RecordBoundaryFetch(outcome, time.Since(start))
	return fc, err
}

func (c *Client) fetch(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &mapsync.FetchError{Kind: mapsync.NetworkError, Name: name, Err: err}
		}
	}

	u := c.endpoint.FeatureURL(name, c.filters[name])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &mapsync.FetchError{Kind: mapsync.NetworkError, Name: name, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("boundary", name).Str("url", u).Msg("fetching boundary")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &mapsync.FetchError{Kind: mapsync.NetworkError, Name: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &mapsync.FetchError{
			Kind:   mapsync.ServerError,
			Name:   name,
			Status: resp.StatusCode,
			Err:    errors.New(msg),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, &mapsync.FetchError{Kind: mapsync.NetworkError, Name: name, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodySize {
		return nil, &mapsync.FetchError{Kind: mapsync.DecodeError, Name: name, Err: fmt.Errorf("body exceeds %d bytes", maxBodySize)}
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, &mapsync.FetchError{Kind: mapsync.DecodeError, Name: name, Err: err}
	}
	if fc.Type != "FeatureCollection" {
		return nil, &mapsync.FetchError{Kind: mapsync.DecodeError, Name: name, Err: fmt.Errorf("unexpected type %q", fc.Type)}
	}
	c.log.Debug().Str("boundary", name).Int("features", len(fc.Features)).Msg("fetched boundary")
	return fc, nil
}
