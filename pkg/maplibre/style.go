// Package maplibre describes the slice of a MapLibre/Mapbox GL renderer that
// the ArcGIS adapters drive: sources, layers, style documents, view events
// and the optional hooks different renderer versions expose for refreshing
// a source in place. MemoryMap is an in-process implementation used by the
// server and by tests.
package maplibre

// Source types understood by the renderer.
const (
	SourceRaster  = "raster"
	SourceVector  = "vector"
	SourceGeoJSON = "geojson"
)

// Source is a style source specification.
type Source struct {
	Type        string    `json:"type" yaml:"type"`
	Tiles       []string  `json:"tiles,omitempty" yaml:"tiles,omitempty"`
	URL         string    `json:"url,omitempty" yaml:"url,omitempty"`
	Data        any       `json:"data,omitempty" yaml:"data,omitempty"`
	TileSize    int       `json:"tileSize,omitempty" yaml:"tileSize,omitempty"`
	MinZoom     *float64  `json:"minzoom,omitempty" yaml:"minzoom,omitempty"`
	MaxZoom     *float64  `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty"`
	Bounds      []float64 `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Scheme      string    `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	Attribution string    `json:"attribution,omitempty" yaml:"attribution,omitempty"`
}

// Clone returns a copy that shares no slices with s. Data is copied by
// reference.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	c := *s
	c.Tiles = append([]string(nil), s.Tiles...)
	c.Bounds = append([]float64(nil), s.Bounds...)
	return &c
}

// Layer is a style layer.
type Layer struct {
	ID          string         `json:"id" yaml:"id"`
	Type        string         `json:"type" yaml:"type"`
	Source      string         `json:"source,omitempty" yaml:"source,omitempty"`
	SourceLayer string         `json:"source-layer,omitempty" yaml:"source-layer,omitempty"`
	Filter      []any          `json:"filter,omitempty" yaml:"filter,omitempty"`
	MinZoom     *float64       `json:"minzoom,omitempty" yaml:"minzoom,omitempty"`
	MaxZoom     *float64       `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty"`
	Layout      map[string]any `json:"layout,omitempty" yaml:"layout,omitempty"`
	Paint       map[string]any `json:"paint,omitempty" yaml:"paint,omitempty"`
}

// Style is a style document.
type Style struct {
	Version int                `json:"version" yaml:"version"`
	Name    string             `json:"name,omitempty" yaml:"name,omitempty"`
	Center  []float64          `json:"center,omitempty" yaml:"center,omitempty"`
	Zoom    *float64           `json:"zoom,omitempty" yaml:"zoom,omitempty"`
	Sprite  any                `json:"sprite,omitempty" yaml:"sprite,omitempty"`
	Glyphs  string             `json:"glyphs,omitempty" yaml:"glyphs,omitempty"`
	Sources map[string]*Source `json:"sources" yaml:"sources"`
	Layers  []*Layer           `json:"layers" yaml:"layers"`
}

// NewStyle returns an empty version 8 style.
func NewStyle() *Style {
	return &Style{Version: 8, Sources: map[string]*Source{}, Layers: []*Layer{}}
}

// Clone returns a deep-enough copy for serving: sources and layers are
// copied, paint and layout maps are shared.
func (s *Style) Clone() *Style {
	if s == nil {
		return nil
	}
	c := *s
	c.Sources = make(map[string]*Source, len(s.Sources))
	for id, src := range s.Sources {
		c.Sources[id] = src.Clone()
	}
	c.Layers = make([]*Layer, len(s.Layers))
	for i, l := range s.Layers {
		lc := *l
		c.Layers[i] = &lc
	}
	return &c
}

// Float is a helper for the optional zoom fields.
func Float(v float64) *float64 { return &v }
