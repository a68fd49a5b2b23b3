package esri

import (
	"github.com/paulmach/orb/geojson"
)

// Feature is a GeoJSON feature. Geometry is nil when the source geometry is
// absent or of an unrecognized shape; the feature itself is still kept.
type Feature struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

// NewFeature returns a feature with an empty property map.
func NewFeature(geom *geojson.Geometry) *Feature {
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: map[string]any{},
	}
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type                  string     `json:"type"`
	Features              []*Feature `json:"features"`
	ExceededTransferLimit bool       `json:"exceededTransferLimit,omitempty"`
}

// NewFeatureCollection returns an empty collection.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: []*Feature{},
	}
}

// Append adds a feature to the collection.
func (fc *FeatureCollection) Append(f *Feature) *FeatureCollection {
	fc.Features = append(fc.Features, f)
	return fc
}

// EsriFeature is a feature as returned by query/identify with f=json.
type EsriFeature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry"`
}

// FeatureToGeoJSON converts one Esri feature. When idField names an
// attribute that is present, it becomes the feature id.
func FeatureToGeoJSON(f EsriFeature, idField string) *Feature {
	out := NewFeature(ToGeoJSON(f.Geometry))
	for k, v := range f.Attributes {
		out.Properties[k] = v
	}
	if idField != "" {
		if id, ok := f.Attributes[idField]; ok {
			out.ID = id
		}
	}
	return out
}

// FeaturesToCollection converts a slice of Esri features.
func FeaturesToCollection(features []EsriFeature, idField string) *FeatureCollection {
	fc := NewFeatureCollection()
	for _, f := range features {
		fc.Append(FeatureToGeoJSON(f, idField))
	}
	return fc
}

// FeatureSet is the f=json query response.
type FeatureSet struct {
	ObjectIDFieldName     string            `json:"objectIdFieldName,omitempty"`
	GeometryType          string            `json:"geometryType,omitempty"`
	SpatialReference      *SpatialReference `json:"spatialReference,omitempty"`
	Fields                []Field           `json:"fields,omitempty"`
	Features              []EsriFeature     `json:"features"`
	ExceededTransferLimit bool              `json:"exceededTransferLimit,omitempty"`
}

// ToGeoJSON converts the feature set, using objectIdFieldName for ids.
func (fs *FeatureSet) ToGeoJSON() *FeatureCollection {
	fc := FeaturesToCollection(fs.Features, fs.ObjectIDFieldName)
	fc.ExceededTransferLimit = fs.ExceededTransferLimit
	return fc
}
