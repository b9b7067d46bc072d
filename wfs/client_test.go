package wfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/logging"
)

const gateFeatures = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Gate 1"},
     "geometry": {"type": "Polygon", "coordinates": [[[72.0,31.1],[72.1,31.1],[72.1,31.2],[72.0,31.1]]]}}
  ]
}`

func endpoint(base string) Endpoint {
	return Endpoint{BaseURL: base, Workspace: "Crop_Scan", Version: "1.1.0", Path: "wfs"}
}

func TestFeatureURL(t *testing.T) {
	e := endpoint("http://localhost:8080/geoserver/")
	e.SRSName = "EPSG:4326"
	raw := e.FeatureURL("gate1", `("name" IN ('a'))`)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/geoserver/wfs", u.Path)
	q := u.Query()
	assert.Equal(t, "WFS", q.Get("service"))
	assert.Equal(t, "1.1.0", q.Get("version"))
	assert.Equal(t, "GetFeature", q.Get("request"))
	assert.Equal(t, "Crop_Scan:gate1", q.Get("typeName"))
	assert.Equal(t, "application/json", q.Get("outputFormat"))
	assert.Equal(t, "EPSG:4326", q.Get("srsName"))
	assert.Equal(t, `("name" IN ('a'))`, q.Get("CQL_FILTER"))
}

func TestFeatureURLOmitsOptionalParams(t *testing.T) {
	u, err := url.Parse(endpoint("http://gs").FeatureURL("gate1", ""))
	require.NoError(t, err)
	assert.False(t, u.Query().Has("srsName"))
	assert.False(t, u.Query().Has("CQL_FILTER"))
}

func TestFetchDecodesFeatureCollection(t *testing.T) {
	logging.ConfigureTests()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Crop_Scan:gate1", r.URL.Query().Get("typeName"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(gateFeatures))
	}))
	defer srv.Close()

	fc, err := NewClient(endpoint(srv.URL)).Fetch(context.Background(), "gate1")
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Gate 1", fc.Features[0].Properties.MustString("name"))
	assert.EqualValues(t, 1, calls.Load(), "exactly one request per fetch")
}

func TestFetchEmptyCollectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	fc, err := NewClient(endpoint(srv.URL)).Fetch(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    mapsync.FetchErrorKind
		target  error
	}{
		{
			name: "server status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "layer not found", http.StatusNotFound)
			},
			kind:   mapsync.ServerError,
			target: mapsync.ErrServerStatus,
		},
		{
			name: "exception report with 200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/xml")
				w.Write([]byte(`<ows:ExceptionReport><ows:Exception/></ows:ExceptionReport>`))
			},
			kind:   mapsync.DecodeError,
			target: mapsync.ErrDecode,
		},
		{
			name: "not a feature collection",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"type":"Feature","properties":{},"geometry":null}`))
			},
			kind:   mapsync.DecodeError,
			target: mapsync.ErrDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			fc, err := NewClient(endpoint(srv.URL)).Fetch(context.Background(), "gate2")
			require.Error(t, err)
			assert.Nil(t, fc)

			var fe *mapsync.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, "gate2", fe.Name)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestFetchServerErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(endpoint(srv.URL)).Fetch(context.Background(), "gate2")
	var fe *mapsync.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusBadGateway, fe.Status)
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(endpoint(base)).Fetch(context.Background(), "gate1")
	assert.ErrorIs(t, err, mapsync.ErrNetwork)
}

func TestFetchCancelledContextIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(endpoint(srv.URL)).Fetch(ctx, "gate1")
	assert.ErrorIs(t, err, mapsync.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchRateLimitedWaitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gateFeatures))
	}))
	defer srv.Close()

	c := NewClient(endpoint(srv.URL), WithRateLimit(0.01))
	_, err := c.Fetch(context.Background(), "gate1")
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, "gate1")
	assert.ErrorIs(t, err, mapsync.ErrNetwork)
}

func TestFetchSendsConfiguredFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `("district" IN ('Okara'))`, r.URL.Query().Get("CQL_FILTER"))
		w.Write([]byte(gateFeatures))
	}))
	defer srv.Close()

	c := NewClient(endpoint(srv.URL), WithFilters(map[string]map[string][]string{
		"gate1": {"district": {"Okara"}},
	}))
	_, err := c.Fetch(context.Background(), "gate1")
	require.NoError(t, err)
}
