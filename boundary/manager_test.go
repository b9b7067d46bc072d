package boundary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mapsync "github.com/flywave/go-mapsync"
	"github.com/flywave/go-mapsync/logging"
	"github.com/flywave/go-mapsync/memsurface"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	goleak.VerifyTestMain(m)
}

// square returns a small polygon feature near Okara.
func square(name string, size float64) *geojson.Feature {
	ring := orb.Ring{{73.0, 30.8}, {73.0 + size, 30.8}, {73.0 + size, 30.8 + size}, {73.0, 30.8 + size}, {73.0, 30.8}}
	f := geojson.NewFeature(orb.Polygon{ring})
	if name != "" {
		f.Properties["name"] = name
	}
	return f
}

func collection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

type fakeFetcher struct {
	mu     sync.Mutex
	data   map[string]*geojson.FeatureCollection
	fail   map[string]error
	calls  []string
	before func(name string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: map[string]*geojson.FeatureCollection{}, fail: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	if fc, ok := f.data[name]; ok {
		return fc, nil
	}
	return nil, &mapsync.FetchError{Kind: mapsync.ServerError, Name: name, Status: 404, Err: errors.New("unknown type")}
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func gates(f *fakeFetcher, names ...string) {
	for _, n := range names {
		f.data[n] = collection(square(n+" gate", 0.01))
	}
}

func layerAdds(s *memsurface.Surface) []string {
	var ids []string
	for _, op := range s.Ops() {
		if op.Kind == memsurface.OpAddLayer && op.Err == nil {
			ids = append(ids, op.ID)
		}
	}
	return ids
}

func TestPartialFailureIsolation(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "C")
	f.fail["B"] = &mapsync.FetchError{Kind: mapsync.NetworkError, Name: "B", Err: errors.New("connection refused")}
	s := memsurface.New()
	rec := &mapsync.Recorder{}
	m := New(s, f, WithNotifier(rec))

	res := m.LoadAll(context.Background(), []string{"A", "B", "C"})
	assert.Equal(t, []string{"A", "C"}, res.Loaded)
	assert.Equal(t, []string{"A", "C"}, m.Loaded())
	require.Contains(t, res.Failed, "B")
	assert.ErrorIs(t, res.Failed["B"], mapsync.ErrNetwork)
	assert.False(t, res.Superseded)
	assert.Equal(t, 1, rec.Count(mapsync.LevelWarn))
	assert.Zero(t, rec.Count(mapsync.LevelError))
	assert.False(t, s.HasSource("boundary-B"))
}

func TestInsertionOrderPainting(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "gate3", "gate1", "gate2")
	s := memsurface.New()
	m := New(s, f)

	m.LoadAll(context.Background(), []string{"gate3", "gate1", "gate2"})
	want := []string{
		"boundary-gate3-outline", "boundary-gate3-labels",
		"boundary-gate1-outline", "boundary-gate1-labels",
		"boundary-gate2-outline", "boundary-gate2-labels",
	}
	if diff := cmp.Diff(want, layerAdds(s)); diff != "" {
		t.Fatalf("add-layer order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want, s.Layers())
}

func TestOutlineAndLabelLayers(t *testing.T) {
	f := newFakeFetcher()
	f.data["named"] = collection(square("Gate 1", 0.01))
	f.data["anon"] = collection(square("", 0.01), square("second has a name", 0.01))
	s := memsurface.New()
	m := New(s, f)

	m.LoadAll(context.Background(), []string{"named", "anon"})
	assert.True(t, s.HasLayer("boundary-named-labels"))
	assert.False(t, s.HasLayer("boundary-anon-labels"), "label layer depends on the first feature only")

	outline, ok := s.Layer("boundary-named-outline")
	require.True(t, ok)
	assert.Equal(t, mapsync.LineLayer, outline.Type)
	assert.Equal(t, "boundary-named", outline.Source)
	color, _ := outline.Paint.GetString(mapsync.PropLineColor)
	width, _ := outline.Paint.GetFloat(mapsync.PropLineWidth)
	opacity, _ := outline.Paint.GetFloat(mapsync.PropLineOpacity)
	assert.Equal(t, "#FF0000", color)
	assert.Equal(t, 2.0, width)
	assert.Equal(t, 0.8, opacity)

	labels, _ := s.Layer("boundary-named-labels")
	assert.Equal(t, mapsync.SymbolLayer, labels.Type)
	size, _ := labels.Layout.GetFloat(mapsync.PropTextSize)
	assert.Equal(t, 12.0, size)
	halo, _ := labels.Paint.GetString(mapsync.PropTextHaloColor)
	assert.Equal(t, "#FFFFFF", halo)

	bs := m.Boundaries()
	require.Len(t, bs, 2)
	assert.Equal(t, "boundary-named-labels", bs[0].LabelLayerID)
	assert.Empty(t, bs[1].LabelLayerID)
}

func TestNoLabelsForNullOrEmptyName(t *testing.T) {
	nullName := square("", 0.01)
	nullName.Properties["name"] = nil
	emptyName := square("", 0.01)
	emptyName.Properties["name"] = ""

	f := newFakeFetcher()
	f.data["null"] = collection(nullName)
	f.data["blank"] = collection(emptyName)
	s := memsurface.New()
	m := New(s, f)

	res := m.LoadAll(context.Background(), []string{"null", "blank"})
	assert.Equal(t, []string{"null", "blank"}, res.Loaded)
	assert.True(t, s.HasLayer("boundary-null-outline"))
	assert.False(t, s.HasLayer("boundary-null-labels"))
	assert.True(t, s.HasLayer("boundary-blank-outline"))
	assert.False(t, s.HasLayer("boundary-blank-labels"))
}

func TestEmptyCollectionStillMaterializes(t *testing.T) {
	f := newFakeFetcher()
	f.data["empty"] = geojson.NewFeatureCollection()
	s := memsurface.New()
	m := New(s, f)

	res := m.LoadAll(context.Background(), []string{"empty"})
	assert.Equal(t, []string{"empty"}, res.Loaded)
	assert.True(t, s.HasLayer("boundary-empty-outline"))
	assert.False(t, s.HasLayer("boundary-empty-labels"))
}

func TestToggleVisibilityRoundTrip(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	s := memsurface.New()
	m := New(s, f)
	m.LoadAll(context.Background(), []string{"A", "B"})

	snapshot := func() map[string]string {
		out := map[string]string{}
		for _, id := range s.Layers() {
			l, _ := s.Layer(id)
			v, _ := l.Layout.GetString(mapsync.PropVisibility)
			out[id] = v
		}
		return out
	}
	before := snapshot()
	sources := s.Sources()

	changed, err := m.ToggleVisibilityAll(false)
	require.NoError(t, err)
	require.True(t, changed)
	for id, v := range snapshot() {
		assert.Equal(t, mapsync.Hidden, v, id)
	}
	assert.False(t, m.Visible())

	_, err = m.ToggleVisibilityAll(true)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot())
	assert.Equal(t, sources, s.Sources())
	assert.Zero(t, s.CountOps(memsurface.OpRemoveSource))
	for _, b := range m.Boundaries() {
		assert.Len(t, b.Features.Features, 1)
	}
}

func TestToggleWithNothingLoadedIsNoop(t *testing.T) {
	s := memsurface.New()
	m := New(s, newFakeFetcher())
	changed, err := m.ToggleVisibilityAll(false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, s.CountOps())
	assert.True(t, m.Visible())
}

func TestHiddenBoundariesLoadHidden(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A")
	s := memsurface.New()
	m := New(s, f)
	m.SetVisible(false)

	m.LoadAll(context.Background(), []string{"A"})
	l, _ := s.Layer("boundary-A-outline")
	v, _ := l.Layout.GetString(mapsync.PropVisibility)
	assert.Equal(t, mapsync.Hidden, v)
}

func TestRemoveAll(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	s := memsurface.New()
	m := New(s, f)
	require.NoError(t, m.RemoveAll(), "safe with nothing loaded")

	m.LoadAll(context.Background(), []string{"A", "B"})
	s.ResetOps()
	require.NoError(t, m.RemoveAll())

	var got []string
	for _, op := range s.Ops() {
		got = append(got, fmt.Sprintf("%s %s", op.Kind, op.ID))
	}
	want := []string{
		"remove-layer boundary-A-labels", "remove-layer boundary-A-outline", "remove-source boundary-A",
		"remove-layer boundary-B-labels", "remove-layer boundary-B-outline", "remove-source boundary-B",
	}
	assert.Equal(t, want, got)
	assert.Empty(t, s.Layers())
	assert.Empty(t, s.Sources())
	assert.Empty(t, m.Loaded())
}

func TestLoadAllResetsFirst(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B", "C")
	s := memsurface.New()
	m := New(s, f)

	m.LoadAll(context.Background(), []string{"A", "B"})
	res := m.LoadAll(context.Background(), []string{"C", "A"})
	assert.Equal(t, []string{"C", "A"}, res.Loaded)
	assert.Equal(t, []string{"boundary-C-outline", "boundary-C-labels", "boundary-A-outline", "boundary-A-labels"}, s.Layers())
	assert.ElementsMatch(t, []string{"boundary-A", "boundary-C"}, s.Sources())
}

func TestDuplicateNamesMaterializeOnce(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	s := memsurface.New()
	m := New(s, f)

	res := m.LoadAll(context.Background(), []string{"A", "B", "A"})
	assert.Equal(t, []string{"A", "B"}, res.Loaded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"A", "B"}, f.Calls())
}

func TestAddFailureRollsBack(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	s := memsurface.New()
	s.FailNext(memsurface.OpAddLayer, "boundary-A-labels", errors.New("bad expression"))
	rec := &mapsync.Recorder{}
	m := New(s, f, WithNotifier(rec))

	res := m.LoadAll(context.Background(), []string{"A", "B"})
	assert.Equal(t, []string{"B"}, res.Loaded)
	require.Contains(t, res.Failed, "A")
	assert.False(t, s.HasSource("boundary-A"))
	assert.False(t, s.HasLayer("boundary-A-outline"))
	assert.Equal(t, 1, rec.Count(mapsync.LevelError))
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "old1", "old2", "new1")
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.before = func(name string) {
		if name == "old2" {
			once.Do(func() { close(started) })
			<-release
		}
	}
	s := memsurface.New()
	m := New(s, f)

	done := make(chan LoadResult)
	go func() { done <- m.LoadAll(context.Background(), []string{"old1", "old2"}) }()
	<-started

	second := m.LoadAll(context.Background(), []string{"new1"})
	close(release)
	first := <-done

	assert.True(t, first.Superseded)
	assert.Equal(t, []string{"old1"}, first.Loaded, "old1 was applied before the second load started")
	assert.Equal(t, []string{"new1"}, second.Loaded)
	assert.Equal(t, []string{"new1"}, m.Loaded())
	assert.Equal(t, []string{"boundary-new1-outline", "boundary-new1-labels"}, s.Layers())
	assert.Equal(t, []string{"boundary-new1"}, s.Sources())
	assert.Greater(t, second.Generation, first.Generation)
}

func TestInvalidateDiscardsLoadInFlight(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A")
	started := make(chan struct{})
	release := make(chan struct{})
	f.before = func(string) {
		close(started)
		<-release
	}
	s := memsurface.New()
	m := New(s, f)

	done := make(chan LoadResult)
	go func() { done <- m.LoadAll(context.Background(), []string{"A"}) }()
	<-started
	m.Invalidate()
	close(release)

	res := <-done
	assert.True(t, res.Superseded)
	assert.Empty(t, s.Layers())
	assert.Empty(t, m.Loaded())
}

func TestInvalidateAfterWipe(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	s := memsurface.New()
	m := New(s, f)
	m.LoadAll(context.Background(), []string{"A", "B"})

	require.NoError(t, s.SetStyle(mapsync.StyleRef{Key: "satellite"}))
	m.Invalidate()
	require.True(t, s.CompleteStyleLoad())

	s.ResetOps()
	res := m.LoadAll(context.Background(), []string{"A", "B"})
	assert.Empty(t, res.Failed)
	assert.Zero(t, s.CountOps(memsurface.OpRemoveLayer, memsurface.OpRemoveSource), "nothing left to remove")
	assert.Len(t, s.Layers(), 4)
}

func TestCancelledLoad(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(memsurface.New(), f)
	res := m.LoadAll(ctx, []string{"A", "B"})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Loaded)
	assert.Empty(t, f.Calls())
}

func TestPrefetchKeepsDeclarationOrder(t *testing.T) {
	f := newFakeFetcher()
	names := []string{"n0", "n1", "n2", "n3", "n4"}
	gates(f, names...)
	f.fail["n2"] = &mapsync.FetchError{Kind: mapsync.DecodeError, Name: "n2", Err: errors.New("not json")}
	// Earlier names answer last.
	f.before = func(name string) {
		delay := map[string]time.Duration{"n0": 40, "n1": 30, "n2": 20, "n3": 10, "n4": 0}[name]
		time.Sleep(delay * time.Millisecond)
	}
	s := memsurface.New()
	m := New(s, f, WithConcurrency(5))

	res := m.LoadAll(context.Background(), names)
	assert.Equal(t, []string{"n0", "n1", "n3", "n4"}, res.Loaded)
	var outlines []string
	for _, id := range layerAdds(s) {
		if len(id) > len("-outline") && id[len(id)-len("-outline"):] == "-outline" {
			outlines = append(outlines, id)
		}
	}
	assert.Equal(t, []string{
		"boundary-n0-outline", "boundary-n1-outline", "boundary-n3-outline", "boundary-n4-outline",
	}, outlines)
	assert.ElementsMatch(t, names, f.Calls())
}

func TestAutoColorPalette(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A", "B", "C")
	s := memsurface.New()
	style := DefaultStyle
	style.AutoColor = true
	m := New(s, f, WithStyle(style))

	m.LoadAll(context.Background(), []string{"A", "B", "C"})
	seen := map[string]bool{}
	for i, b := range m.Boundaries() {
		assert.Equal(t, paletteColor(i, 3), b.Color)
		l, _ := s.Layer(b.OutlineLayerID)
		c, _ := l.Paint.GetString(mapsync.PropLineColor)
		assert.Equal(t, b.Color, c)
		seen[b.Color] = true
	}
	assert.Len(t, seen, 3)
}

func TestAreas(t *testing.T) {
	f := newFakeFetcher()
	f.data["fields"] = collection(square("north", 0.01), square("south", 0.02))
	m := New(memsurface.New(), f)
	m.LoadAll(context.Background(), []string{"fields"})

	areas := m.Areas()
	require.Len(t, areas, 2)
	assert.Equal(t, "north", areas[0].Name)
	// 0.01 degrees near 30.8N is roughly 1.11km by 0.955km.
	assert.InDelta(t, 106, areas[0].Hectares, 5)
	assert.InDelta(t, 4*areas[0].Hectares, areas[1].Hectares, 2)
	assert.InDelta(t, areas[0].Hectares+areas[1].Hectares, TotalHectares(areas), 1e-9)
}

func TestLoadSupersededBeforeRun(t *testing.T) {
	f := newFakeFetcher()
	gates(f, "A")
	s := memsurface.New()
	m := New(s, f)

	l := m.Begin([]string{"A"})
	m.Supersede()
	res := l.Run(context.Background())
	assert.True(t, res.Superseded)
	assert.Empty(t, f.Calls(), "a superseded load does not fetch")
	assert.Empty(t, s.Layers())
}
