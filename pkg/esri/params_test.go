package esri

import (
	"testing"
)

func TestFormatParam(t *testing.T) {
	var nilGeom *Geometry
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"Nil omitted", nil, "", false},
		{"Typed nil pointer omitted", nilGeom, "", false},
		{"Nil slice omitted", []int(nil), "", false},
		{"String", "1=1", "1=1", true},
		{"Zero kept", 0, "0", true},
		{"False kept", false, "false", true},
		{"True", true, "true", true},
		{"Float", 2.5, "2.5", true},
		{"Int slice joined", []int{0, 1, 2}, "0,1,2", true},
		{"String slice joined", []string{"NAME", "POP"}, "NAME,POP", true},
		{"Any slice joined", []any{1, "a"}, "1,a", true},
		{"Map as JSON", map[string]any{"wkid": 4326}, `{"wkid":4326}`, true},
		{"Struct pointer as JSON", &SpatialReference{WKID: 3857}, `{"wkid":3857}`, true},
		{"Slice of maps as JSON", []map[string]any{{"id": 1}}, `[{"id":1}]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FormatParam(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("FormatParam(%v) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEncodeParams(t *testing.T) {
	values := EncodeParams(map[string]any{
		"where":          "1=1",
		"returnGeometry": false,
		"resultOffset":   0,
		"geometry":       nil,
		"outFields":      []string{"*"},
	})

	if _, ok := values["geometry"]; ok {
		t.Error("nil geometry should be omitted")
	}
	if got := values.Get("returnGeometry"); got != "false" {
		t.Errorf("returnGeometry = %q; want false", got)
	}
	if got := values.Get("resultOffset"); got != "0" {
		t.Errorf("resultOffset = %q; want 0", got)
	}
	if got := values.Get("outFields"); got != "*" {
		t.Errorf("outFields = %q; want *", got)
	}
}

func TestJoinQuery(t *testing.T) {
	got := JoinQuery([]Param{
		{Key: "bbox", Value: "{bbox-epsg-3857}", Raw: true},
		{Key: "layers", Value: "show:0,1"},
		{Key: "layerDefs", Value: `{"0":"POP > 10"}`},
	})
	want := "bbox={bbox-epsg-3857}&layers=show:0,1&layerDefs=%7B%220%22:%22POP+%3E+10%22%7D"
	if got != want {
		t.Errorf("JoinQuery = %q; want %q", got, want)
	}
}

func TestAppendToken(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  string
		token string
		want  string
	}{
		{"No token", "https://h/VectorTileServer/tile/{z}/{y}/{x}.pbf", "", "https://h/VectorTileServer/tile/{z}/{y}/{x}.pbf"},
		{"Bare template", "https://h/MapServer/tile/{z}/{y}/{x}", "abc", "https://h/MapServer/tile/{z}/{y}/{x}?token=abc"},
		{"Existing query", "https://cdn/tile/{z}/{y}/{x}.pbf?v=2", "abc", "https://cdn/tile/{z}/{y}/{x}.pbf?v=2&token=abc"},
		{"Trailing question mark", "https://cdn/tile/{z}/{y}/{x}.pbf?", "abc", "https://cdn/tile/{z}/{y}/{x}.pbf?token=abc"},
		{"Trailing ampersand", "https://cdn/tile?v=2&", "abc", "https://cdn/tile?v=2&token=abc"},
		{"Token escaped", "https://h/tile", "a b&c", "https://h/tile?token=a+b%26c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AppendToken(tt.tmpl, tt.token); got != tt.want {
				t.Errorf("AppendToken(%q, %q) = %q, want %q", tt.tmpl, tt.token, got, tt.want)
			}
		})
	}
}
