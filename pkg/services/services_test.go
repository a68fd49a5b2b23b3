package services

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

func TestTiledMapService(t *testing.T) {
	m := newRecordingMap()
	s, err := NewTiledMapService("basemap", m, TiledMapOptions{URL: "https://host/arcgis/rest/services/World/MapServer/", NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	src := m.source(t, "basemap")
	want := "https://host/arcgis/rest/services/World/MapServer/tile/{z}/{y}/{x}"
	if src.Type != maplibre.SourceRaster || src.Tiles[0] != want || src.TileSize != 256 {
		t.Errorf("source = %+v", src)
	}
	if err := s.SetToken("t0k"); err != nil {
		t.Fatal(err)
	}
	if got := m.source(t, "basemap").Tiles[0]; got != want+"?token=t0k" {
		t.Errorf("tiles after SetToken = %s", got)
	}
}

func TestSourceOptionsApply(t *testing.T) {
	m := newRecordingMap()
	minZoom := 2.0
	_, err := NewTiledMapService("basemap", m, TiledMapOptions{URL: "https://host/MapServer", NoAttribution: true},
		WithSourceOptions(SourceOptions{TileSize: 512, MinZoom: &minZoom, Attribution: "Fixed"}))
	if err != nil {
		t.Fatal(err)
	}
	src := m.source(t, "basemap")
	if src.TileSize != 512 || src.MinZoom == nil || *src.MinZoom != 2 || src.Attribution != "Fixed" {
		t.Errorf("source = %+v", src)
	}
}

func TestImageService(t *testing.T) {
	m := newRecordingMap()
	s, err := NewImageService("elev", m, ImageServiceOptions{
		URL:           "https://host/ImageServer",
		BandIDs:       []int{3, 2, 1},
		Interpolation: "RSP_BilinearInterpolation",
		NoAttribution: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	tiles := m.source(t, "elev").Tiles[0]
	want := "https://host/ImageServer/exportImage?bbox={bbox-epsg-3857}&bboxSR=3857&imageSR=3857&size=256,256&f=image&format=jpgpng&transparent=true&bandIds=3,2,1&interpolation=RSP_BilinearInterpolation"
	if tiles != want {
		t.Errorf("tiles =\n%s\nwant\n%s", tiles, want)
	}

	if err := s.SetRenderingRule(map[string]any{"rasterFunction": "Hillshade"}); err != nil {
		t.Fatal(err)
	}
	noData := 0.0
	if err := s.SetNoData(&noData); err != nil {
		t.Fatal(err)
	}
	tiles = m.source(t, "elev").Tiles[0]
	for _, want := range []string{"renderingRule=%7B%22rasterFunction%22:%22Hillshade%22%7D", "noData=0"} {
		if !strings.Contains(tiles, want) {
			t.Errorf("tiles %s missing %s", tiles, want)
		}
	}
}

func TestImageServiceIdentify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/identify") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"value":"42","location":{"x":-120,"y":38}}`))
	}))
	defer srv.Close()

	s, err := NewImageService("elev", newRecordingMap(), ImageServiceOptions{URL: srv.URL + "/ImageServer", NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Identify(readyCtx(t), esri.LngLat{Lng: -120, Lat: 38})
	if err != nil {
		t.Fatal(err)
	}
	if vals := res.GetPixelValues(); len(vals) != 1 || vals[0] != "42" {
		t.Errorf("pixel values = %v", vals)
	}
}

func TestVectorTileService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/VectorTileServer"):
			w.Write([]byte(`{"name":"Roads","copyrightText":"Esri","tiles":["tile/{z}/{y}/{x}.pbf"],"minzoom":0,"maxzoom":15}`))
		case strings.HasSuffix(r.URL.Path, "/resources/styles/root.json"):
			w.Write([]byte(`{"version":8,"layers":[{"id":"road","type":"line","source":"esri","source-layer":"Road"},{"id":"bg","type":"background"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := newRecordingMap()
	s, err := NewVectorTileService("roads", m, VectorTileOptions{URL: srv.URL + "/VectorTileServer"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	src := m.source(t, "roads")
	if src.Type != maplibre.SourceVector || src.Tiles[0] != srv.URL+"/VectorTileServer/tile/{z}/{y}/{x}.pbf" {
		t.Errorf("source = %+v", src)
	}
	if src.MaxZoom == nil || *src.MaxZoom != 15 {
		t.Errorf("maxzoom = %v; want 15", src.MaxZoom)
	}
	if got := m.Attributions()["roads"]; got != "Esri" {
		t.Errorf("attribution = %q", got)
	}

	if err := s.AddDefaultLayer(readyCtx(t), ""); err != nil {
		t.Fatal(err)
	}
	road, ok := m.GetLayer("roads/road")
	if !ok || road.Source != "roads" || road.SourceLayer != "Road" {
		t.Errorf("road layer = %+v", road)
	}
	if bg, ok := m.GetLayer("roads/bg"); !ok || bg.Source != "" {
		t.Errorf("background layer = %+v", bg)
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if len(m.GetStyle().Layers) != 0 {
		t.Errorf("layers left after Remove: %d", len(m.GetStyle().Layers))
	}
}

func TestVectorTileServiceMetadataFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := newRecordingMap()
	s, err := NewVectorTileService("roads", m, VectorTileOptions{URL: srv.URL + "/VectorTileServer"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err == nil {
		t.Fatal("Ready should report the metadata failure")
	}
	if adds, _ := m.counts(); adds != 0 {
		t.Errorf("source added despite the failure")
	}
}

func TestVectorTileServiceRemoveDuringCreation(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newRecordingMap()
	s, err := NewVectorTileService("roads", m, VectorTileOptions{URL: srv.URL + "/VectorTileServer"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("metadata request never started")
	}
	if err := s.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err == nil {
		t.Fatal("Ready succeeded for a service removed during creation")
	}
	if _, ok := m.GetSource("roads"); ok {
		t.Error("source added after Remove")
	}
	if adds, _ := m.counts(); adds != 0 {
		t.Errorf("AddSource calls = %d; want 0", adds)
	}
	if err := s.Update(); !errors.Is(err, ErrRemoved) {
		t.Errorf("Update after Remove err = %v; want ErrRemoved", err)
	}
	if err := s.AddDefaultLayer(readyCtx(t), ""); err == nil {
		t.Error("AddDefaultLayer succeeded after Remove")
	}
	if n := len(m.GetStyle().Layers); n != 0 {
		t.Errorf("layers after Remove = %d; want 0", n)
	}
}

func TestVectorTileServiceTokenJoinsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Roads","tiles":["https://cdn.example.com/tiles/{z}/{y}/{x}.pbf?v=3"]}`))
	}))
	defer srv.Close()

	m := newRecordingMap()
	s, err := NewVectorTileService("roads", m, VectorTileOptions{URL: srv.URL + "/VectorTileServer", Token: "t0k", NoAttribution: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(readyCtx(t)); err != nil {
		t.Fatal(err)
	}
	want := "https://cdn.example.com/tiles/{z}/{y}/{x}.pbf?v=3&token=t0k"
	if got := m.source(t, "roads").Tiles[0]; got != want {
		t.Errorf("tiles = %s; want %s", got, want)
	}
}

func TestTileTemplate(t *testing.T) {
	tests := []struct {
		tiles []string
		want  string
	}{
		{nil, "https://h/VectorTileServer/tile/{z}/{y}/{x}.pbf"},
		{[]string{"tile/{z}/{y}/{x}.pbf"}, "https://h/VectorTileServer/tile/{z}/{y}/{x}.pbf"},
		{[]string{"/custom/{z}/{x}/{y}.pbf"}, "https://h/VectorTileServer/custom/{z}/{x}/{y}.pbf"},
		{[]string{"https://cdn/tiles/{z}/{y}/{x}.pbf"}, "https://cdn/tiles/{z}/{y}/{x}.pbf"},
	}
	for _, tt := range tests {
		if got := tileTemplate("https://h/VectorTileServer", tt.tiles); got != tt.want {
			t.Errorf("tileTemplate(%v) = %s; want %s", tt.tiles, got, tt.want)
		}
	}
}

func TestVectorBasemapStyle(t *testing.T) {
	tests := []struct {
		name string
		opts VectorBasemapOptions
		want string
	}{
		{
			name: "v2 path name",
			opts: VectorBasemapOptions{StyleName: "arcgis/streets", Token: "k"},
			want: BasemapStylesV2 + "/arcgis/streets?token=k",
		},
		{
			name: "v2 bare name",
			opts: VectorBasemapOptions{StyleName: "Navigation", Token: "k", Language: "en-us", Worldview: "unitedStatesOfAmerica"},
			want: BasemapStylesV2 + "/arcgis/navigation?language=en-US&token=k&worldview=unitedStatesOfAmerica",
		},
		{
			name: "v1 enum name",
			opts: VectorBasemapOptions{StyleName: "ArcGIS:Streets", Token: "k", Language: "fr"},
			want: BasemapStylesV1 + "/ArcGIS:Streets?token=k&type=style",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewVectorBasemapStyle(tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := b.StyleURL(); got != tt.want {
				t.Errorf("StyleURL() = %s; want %s", got, tt.want)
			}
		})
	}

	if _, err := NewVectorBasemapStyle(VectorBasemapOptions{StyleName: "arcgis/streets"}); err != ErrMissingToken {
		t.Errorf("missing token err = %v", err)
	}
	if _, err := NewVectorBasemapStyle(VectorBasemapOptions{Token: "k"}); err == nil {
		t.Error("missing style name should fail")
	}

	b, _ := NewVectorBasemapStyle(VectorBasemapOptions{StyleName: "arcgis/streets", Token: "k"})
	b.SetStyle("arcgis/outdoor")
	m := maplibre.NewMemoryMap(orb.Point{0, 0}, 2, 256, 256)
	if err := b.Apply(m); err != nil {
		t.Fatal(err)
	}
	if got := m.StyleURL(); got != BasemapStylesV2+"/arcgis/outdoor?token=k" {
		t.Errorf("map style url = %s", got)
	}
}

func TestVectorBasemapLoadStyle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k" {
			w.Write([]byte(`{"error":{"code":498,"message":"Invalid token"}}`))
			return
		}
		w.Write([]byte(`{"version":8,"name":"Streets","layers":[{"id":"bg","type":"background"}]}`))
	}))
	defer srv.Close()

	b, err := NewVectorBasemapStyle(VectorBasemapOptions{StyleName: "arcgis/streets", Token: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	style, err := b.LoadStyle(readyCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if style.Name != "Streets" || len(style.Layers) != 1 || style.Sources == nil {
		t.Errorf("style = %+v", style)
	}
}

func TestDefaultStyle(t *testing.T) {
	tests := []struct {
		geometryType string
		want         string
	}{
		{esri.GeometryPoint, "circle"},
		{esri.GeometryMultipoint, "circle"},
		{esri.GeometryPolyline, "line"},
		{esri.GeometryPolygon, "fill"},
		{esri.GeometryEnvelope, "fill"},
		{"", "circle"},
	}
	for _, tt := range tests {
		l := DefaultStyle("l", "s", tt.geometryType)
		if l.Type != tt.want || l.Source != "s" || l.ID != "l" {
			t.Errorf("DefaultStyle(%q) = %+v; want type %s", tt.geometryType, l, tt.want)
		}
	}
}
