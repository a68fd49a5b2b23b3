// Package catalog keeps the ArcGIS services the server mounts on its map.
package catalog

// Service types.
const (
	TypeDynamic    = "dynamic"
	TypeTiled      = "tiled"
	TypeImage      = "image"
	TypeFeature    = "feature"
	TypeVectorTile = "vectortile"
)

// Entry is one configured ArcGIS service. Huma reads the tags for OpenAPI
// and validation; the yaml tags drive persistence.
type Entry struct {
	ID      string  `json:"id,omitempty" yaml:"id" doc:"Unique service identifier, also the map source id" example:"parcels"`
	Name    string  `json:"name" yaml:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Parcels"`
	Type    string  `json:"type" yaml:"type" required:"true" enum:"dynamic,tiled,image,feature,vectortile" doc:"ArcGIS service type" example:"feature"`
	URL     string  `json:"url" yaml:"url" required:"true" minLength:"1" doc:"Service URL" example:"https://services.arcgis.com/x/arcgis/rest/services/Parcels/FeatureServer/0"`
	Token   string  `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token passed through on every request"`
	Visible bool    `json:"visible" yaml:"visible" required:"false" doc:"Whether the service is drawn"`
	Opacity float64 `json:"opacity,omitempty" yaml:"opacity,omitempty" minimum:"0" maximum:"1" default:"1" doc:"Raster layer opacity (0-1)"`

	// dynamic
	Layers    []int             `json:"layers,omitempty" yaml:"layers,omitempty" doc:"Sublayers to draw (dynamic)"`
	LayerDefs map[string]string `json:"layerDefs,omitempty" yaml:"layerDefs,omitempty" doc:"Definition expressions keyed by sublayer id (dynamic)"`
	Format    string            `json:"format,omitempty" yaml:"format,omitempty" doc:"Image format (dynamic, image)" example:"png32"`

	// image
	RenderingRule map[string]any `json:"renderingRule,omitempty" yaml:"renderingRule,omitempty" doc:"Raster function (image)"`
	BandIDs       []int          `json:"bandIds,omitempty" yaml:"bandIds,omitempty" doc:"Bands to render (image)"`

	// feature
	Where          string   `json:"where,omitempty" yaml:"where,omitempty" doc:"Where clause (feature)" example:"ACRES > 5"`
	OutFields      []string `json:"outFields,omitempty" yaml:"outFields,omitempty" doc:"Fields to fetch (feature)"`
	UseBoundingBox bool     `json:"useBoundingBox,omitempty" yaml:"useBoundingBox,omitempty" doc:"Limit GeoJSON queries to the view (feature)"`
	InlineData     bool     `json:"inlineData,omitempty" yaml:"inlineData,omitempty" doc:"Embed fetched GeoJSON in the style (feature)"`
	VectorTiles    bool     `json:"vectorTiles,omitempty" yaml:"vectorTiles,omitempty" doc:"Probe for a VectorTileServer sibling (feature)"`
}
