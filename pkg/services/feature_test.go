package services

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

const layerPath = "/arcgis/rest/services/Parcels/FeatureServer/0"

// arcgisFeatureServer mocks a FeatureServer layer and, when vector is true,
// its VectorTileServer sibling.
type arcgisFeatureServer struct {
	*httptest.Server

	vector  bool
	queries atomic.Int32

	mu    sync.Mutex
	wheres []string
	// block holds queries whose where clause matches until released.
	block   string
	arrived chan struct{}
	release chan struct{}
	// stall, when set, is signalled by VectorTileServer requests, which
	// then hang until the client gives up.
	stall chan struct{}
}

func newArcgisFeatureServer(t *testing.T, vector bool) *arcgisFeatureServer {
	t.Helper()
	f := &arcgisFeatureServer{vector: vector}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *arcgisFeatureServer) layerURL() string { return f.URL + layerPath }

func (f *arcgisFeatureServer) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/VectorTileServer"):
		f.mu.Lock()
		stall := f.stall
		f.mu.Unlock()
		if stall != nil {
			select {
			case stall <- struct{}{}:
			default:
			}
			<-r.Context().Done()
			return
		}
		if !f.vector {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"name":"Parcels","defaultStyles":"resources/styles","tiles":["tile/{z}/{y}/{x}.pbf"]}`))
	case strings.HasSuffix(r.URL.Path, "/VectorTileServer/resources/styles/root.json"):
		w.Write([]byte(`{"version":8,"sources":{"esri":{"type":"vector"}},"layers":[{"id":"Parcels/fill","type":"fill","source":"esri","source-layer":"Parcels"}]}`))
	case strings.HasSuffix(r.URL.Path, "/FeatureServer/0"):
		w.Write([]byte(`{"name":"Parcels","geometryType":"esriGeometryPolygon","copyrightText":"County"}`))
	case strings.HasSuffix(r.URL.Path, "/FeatureServer/0/query"):
		f.queries.Add(1)
		where := r.URL.Query().Get("where")
		f.mu.Lock()
		f.wheres = append(f.wheres, where)
		block, arrived, release := f.block, f.arrived, f.release
		f.mu.Unlock()
		if block != "" && where == block {
			arrived <- struct{}{}
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[-120,38]},"properties":{"where":"` + where + `"}}]}`))
	default:
		http.NotFound(w, r)
	}
}

func TestFeatureServicePrefersVectorTiles(t *testing.T) {
	srv := newArcgisFeatureServer(t, true)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{URL: srv.layerURL(), NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if s.Mode() != maplibre.SourceVector {
		t.Fatalf("Mode = %q; want vector", s.Mode())
	}
	src := m.source(t, "parcels")
	want := srv.URL + "/arcgis/rest/services/Parcels/VectorTileServer/tile/{z}/{y}/{x}.pbf"
	if src.Type != maplibre.SourceVector || len(src.Tiles) != 1 || src.Tiles[0] != want {
		t.Errorf("source = %+v; want vector tiles %s", src, want)
	}

	layers, err := s.GetStyle(readyCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || layers[0].ID != "parcels/Parcels/fill" || layers[0].Source != "parcels" {
		t.Errorf("GetStyle = %+v", layers[0])
	}
}

func TestFeatureServiceFallsBackToGeoJSON(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{URL: srv.layerURL(), NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if s.Mode() != maplibre.SourceGeoJSON {
		t.Fatalf("Mode = %q; want geojson", s.Mode())
	}
	data, ok := m.source(t, "parcels").Data.(string)
	if !ok {
		t.Fatalf("data = %T; want a query URL", m.source(t, "parcels").Data)
	}
	for _, want := range []string{srv.layerURL() + "/query?", "f=geojson", "where=1%3D1", "outFields=%2A", "outSR=4326"} {
		if !strings.Contains(data, want) {
			t.Errorf("query url %s missing %s", data, want)
		}
	}

	if err := s.SetWhere("ACRES > 5"); err != nil {
		t.Fatal(err)
	}
	data = m.source(t, "parcels").Data.(string)
	if !strings.Contains(data, "where=ACRES+%3E+5") {
		t.Errorf("query url %s does not carry the new where", data)
	}

	layers, err := s.GetStyle(readyCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || layers[0].Type != "fill" || layers[0].Source != "parcels" {
		t.Errorf("GetStyle = %+v", layers)
	}
	if err := s.AddDefaultLayer(readyCtx(t), ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetLayer("parcels-layer"); !ok {
		t.Error("default layer not added")
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetLayer("parcels-layer"); ok {
		t.Error("Remove left the default layer behind")
	}
}

func TestFeatureServiceBoundingBoxQueryURL(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:                srv.layerURL(),
		DisableVectorTiles: true,
		UseBoundingBox:     true,
		Precision:          6,
		NoAttribution:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	u, err := s.QueryURL()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"geometry=", "geometryType=esriGeometryEnvelope", "spatialRel=esriSpatialRelIntersects", "inSR=4326", "geometryPrecision=6"} {
		if !strings.Contains(u, want) {
			t.Errorf("query url %s missing %s", u, want)
		}
	}

	if err := s.SetBoundingBox(false); err != nil {
		t.Fatal(err)
	}
	if n := m.ListenerCount(maplibre.EventMoveEnd); n != 0 {
		t.Errorf("moveend listeners after SetBoundingBox(false) = %d", n)
	}
	u, _ = s.QueryURL()
	if strings.Contains(u, "geometry=") {
		t.Errorf("query url %s still constrained to the view", u)
	}
}

func TestFeatureServiceDebouncesViewChanges(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:                srv.layerURL(),
		DisableVectorTiles: true,
		UseBoundingBox:     true,
		InlineData:         true,
		Debounce:           20 * time.Millisecond,
		NoAttribution:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	if n := srv.queries.Load(); n != 1 {
		t.Fatalf("queries after creation = %d; want 1", n)
	}
	fc, ok := m.source(t, "parcels").Data.(*esri.FeatureCollection)
	if !ok || len(fc.Features) != 1 {
		t.Fatalf("inline data = %#v", m.source(t, "parcels").Data)
	}

	for i := 0; i < 5; i++ {
		m.JumpTo(orb.Point{-120 + float64(i), 38}, 5)
	}
	eventually(t, func() bool { return srv.queries.Load() == 2 }, "burst of view changes never refreshed")
	time.Sleep(100 * time.Millisecond)
	if n := srv.queries.Load(); n != 2 {
		t.Errorf("queries after burst = %d; want exactly one refresh", n)
	}
}

func TestFeatureServiceDropsStaleResponses(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:                srv.layerURL(),
		DisableVectorTiles: true,
		InlineData:         true,
		NoAttribution:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}

	srv.mu.Lock()
	srv.block = "SLOW = 1"
	srv.arrived = make(chan struct{}, 1)
	srv.release = make(chan struct{})
	srv.mu.Unlock()

	slow := make(chan error, 1)
	go func() { slow <- s.SetWhere("SLOW = 1") }()
	<-srv.arrived

	if err := s.SetWhere("FAST = 1"); err != nil {
		t.Fatal(err)
	}
	close(srv.release)
	<-slow

	fc := m.source(t, "parcels").Data.(*esri.FeatureCollection)
	if got := fc.Features[0].Properties["where"]; got != "FAST = 1" {
		t.Errorf("source data from %v; want the latest request", got)
	}
}

func TestFeatureServiceRemoveDetachesListeners(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:                srv.layerURL(),
		DisableVectorTiles: true,
		UseBoundingBox:     true,
		NoAttribution:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	if m.ListenerCount(maplibre.EventMoveEnd) != 1 || m.ListenerCount(maplibre.EventZoomEnd) != 1 {
		t.Fatalf("listeners = %d moveend, %d zoomend; want 1 each",
			m.ListenerCount(maplibre.EventMoveEnd), m.ListenerCount(maplibre.EventZoomEnd))
	}

	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, removes := m.counts(); removes != 1 {
		t.Errorf("RemoveSource calls = %d; want 1", removes)
	}
	if m.ListenerCount(maplibre.EventMoveEnd) != 0 || m.ListenerCount(maplibre.EventZoomEnd) != 0 {
		t.Error("listeners left after Remove")
	}
	if _, ok := m.GetSource("parcels"); ok {
		t.Error("source left after Remove")
	}
}

func TestFeatureServiceRemoveDuringCreation(t *testing.T) {
	srv := newArcgisFeatureServer(t, true)
	srv.stall = make(chan struct{}, 1)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:            srv.layerURL(),
		UseBoundingBox: true,
		NoAttribution:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-srv.stall:
	case <-time.After(5 * time.Second):
		t.Fatal("vector tile lookup never started")
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err == nil {
		t.Fatal("Ready succeeded for a service removed during creation")
	}

	if n := m.ListenerCount(maplibre.EventMoveEnd) + m.ListenerCount(maplibre.EventZoomEnd); n != 0 {
		t.Errorf("listeners after Remove = %d; want 0", n)
	}
	if _, ok := m.GetSource("parcels"); ok {
		t.Error("source added after Remove")
	}
	if adds, _ := m.counts(); adds != 0 {
		t.Errorf("AddSource calls = %d; want 0", adds)
	}
	if q := srv.queries.Load(); q != 0 {
		t.Errorf("queries after Remove = %d; want 0", q)
	}
}

func TestFeatureServiceSettersAfterRemove(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{
		URL:                srv.layerURL(),
		DisableVectorTiles: true,
		NoAttribution:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		set  func() error
	}{
		{"SetBoundingBox on", func() error { return s.SetBoundingBox(true) }},
		{"SetBoundingBox off", func() error { return s.SetBoundingBox(false) }},
		{"SetWhere", func() error { return s.SetWhere("1=1") }},
		{"SetOutFields", func() error { return s.SetOutFields("NAME") }},
		{"Update", s.Update},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.set(); !errors.Is(err, ErrRemoved) {
				t.Errorf("err = %v; want ErrRemoved", err)
			}
		})
	}

	if n := m.ListenerCount(maplibre.EventMoveEnd) + m.ListenerCount(maplibre.EventZoomEnd); n != 0 {
		t.Errorf("listeners after Remove = %d; want 0", n)
	}
	if _, ok := m.GetSource("parcels"); ok {
		t.Error("source back on the map after Remove")
	}
	if adds, removes := m.counts(); adds != 1 || removes != 1 {
		t.Errorf("AddSource/RemoveSource calls = %d/%d; want 1/1", adds, removes)
	}
}

func TestFeatureServiceVectorTokenTemplate(t *testing.T) {
	srv := newArcgisFeatureServer(t, true)
	m := newRecordingMap()
	s, err := NewFeatureService("parcels", m, FeatureServiceOptions{URL: srv.layerURL(), Token: "t0k", NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	want := srv.URL + "/arcgis/rest/services/Parcels/VectorTileServer/tile/{z}/{y}/{x}.pbf?token=t0k"
	if got := m.source(t, "parcels").Tiles[0]; got != want {
		t.Errorf("tiles = %s; want %s", got, want)
	}
}

func TestFeatureServiceIdentify(t *testing.T) {
	srv := newArcgisFeatureServer(t, false)
	s, err := NewFeatureService("parcels", newRecordingMap(), FeatureServiceOptions{URL: srv.layerURL(), DisableVectorTiles: true, NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	fc, err := s.Identify(readyCtx(t), esri.LngLat{Lng: -120, Lat: 38}, true)
	if err != nil || len(fc.Features) != 1 {
		t.Fatalf("Identify = %+v, %v", fc, err)
	}
	if _, err := s.Identify(readyCtx(t), esri.Bounds{SouthWest: esri.LngLat{Lng: 1, Lat: 1}, NorthEast: esri.LngLat{Lng: 2, Lat: 2}}, true); err == nil {
		t.Error("Identify with an envelope should fail")
	}
}
