package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esrigl.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.View.Width != 1024 || cfg.View.Zoom != 2 {
		t.Errorf("defaults = %+v", cfg.View)
	}
}

func TestLoad(t *testing.T) {
	path := write(t, `
view:
  center: [-118.8, 34.0]
  zoom: 9
  width: 800
  height: 600
basemap:
  styleName: arcgis/streets
  token: abc
services:
  - name: Parcels
    type: feature
    url: https://host/arcgis/rest/services/Parcels/FeatureServer/0
    visible: true
    useBoundingBox: true
  - name: Census
    type: dynamic
    url: https://host/arcgis/rest/services/Census/MapServer
    visible: true
    layers: [0, 3]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.View.Center != [2]float64{-118.8, 34.0} || cfg.View.Width != 800 {
		t.Errorf("view = %+v", cfg.View)
	}
	if cfg.Basemap == nil || cfg.Basemap.StyleName != "arcgis/streets" {
		t.Errorf("basemap = %+v", cfg.Basemap)
	}
	if len(cfg.Services) != 2 || !cfg.Services[0].UseBoundingBox || len(cfg.Services[1].Layers) != 2 {
		t.Errorf("services = %+v", cfg.Services)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "view: [", "parse"},
		{"zero size", "view: {width: 0, height: 10}", "width and height"},
		{"bad latitude", "view: {center: [0, 95]}", "latitude"},
		{"bad service", "services:\n  - name: X\n    type: wms\n    url: https://host/x", "services[0]"},
		{"basemap without style", "basemap: {token: abc}", "styleName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v; want it to mention %q", err, tt.want)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
