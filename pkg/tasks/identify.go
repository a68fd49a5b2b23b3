package tasks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// IdentifyFeatures builds a map service /identify request.
type IdentifyFeatures struct {
	*Task
}

// NewIdentifyFeatures creates an identify task against a MapServer URL.
func NewIdentifyFeatures(serviceURL string, opts ...Option) (*IdentifyFeatures, error) {
	t, err := newTask(serviceURL, "identify", opts)
	if err != nil {
		return nil, err
	}
	t.params["sr"] = 4326
	t.params["layers"] = "all"
	t.params["tolerance"] = 3
	t.params["returnGeometry"] = true
	return &IdentifyFeatures{Task: t}, nil
}

// On takes mapExtent and imageDisplay from the map's current view.
func (i *IdentifyFeatures) On(m maplibre.Map) *IdentifyFeatures {
	b := m.GetBounds()
	w, h := m.CanvasSize()
	i.set("mapExtent", extentParam([4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}))
	i.set("imageDisplay", strconv.Itoa(w)+","+strconv.Itoa(h)+",96")
	return i
}

// At sets the location to identify.
func (i *IdentifyFeatures) At(point any) *IdentifyFeatures {
	i.setGeometry(point)
	return i
}

// Layers identifies on the given visible layer ids.
func (i *IdentifyFeatures) Layers(ids ...int) *IdentifyFeatures {
	return i.LayerSelection(ids)
}

// LayerSelection accepts ids, a single id, or strings such as "all" and
// "top:1,2".
func (i *IdentifyFeatures) LayerSelection(v any) *IdentifyFeatures {
	s, err := esri.NormalizeLayers(v)
	if err != nil {
		i.fail(err)
		return i
	}
	i.set("layers", s)
	return i
}

func (i *IdentifyFeatures) LayerDef(id int, where string) *IdentifyFeatures {
	i.appendLayerDef(id, where)
	return i
}

func (i *IdentifyFeatures) Tolerance(px int) *IdentifyFeatures {
	i.set("tolerance", px)
	return i
}

func (i *IdentifyFeatures) ReturnGeometry(v bool) *IdentifyFeatures {
	i.set("returnGeometry", v)
	return i
}

func (i *IdentifyFeatures) Precision(digits int) *IdentifyFeatures {
	i.set("geometryPrecision", digits)
	return i
}

func (i *IdentifyFeatures) Simplify(m maplibre.Map, factor float64) *IdentifyFeatures {
	i.set("maxAllowableOffset", simplifyOffset(m, factor))
	return i
}

func (i *IdentifyFeatures) MapExtent(xmin, ymin, xmax, ymax float64) *IdentifyFeatures {
	i.set("mapExtent", extentParam([4]float64{xmin, ymin, xmax, ymax}))
	return i
}

func (i *IdentifyFeatures) ImageDisplay(width, height, dpi int) *IdentifyFeatures {
	i.set("imageDisplay", fmt.Sprintf("%d,%d,%d", width, height, dpi))
	return i
}

func (i *IdentifyFeatures) DynamicLayers(layers any) *IdentifyFeatures {
	i.set("dynamicLayers", layers)
	return i
}

func (i *IdentifyFeatures) Token(token string) *IdentifyFeatures {
	i.token = token
	return i
}

type identifyResult struct {
	LayerID          int            `json:"layerId"`
	LayerName        string         `json:"layerName"`
	DisplayFieldName string         `json:"displayFieldName"`
	Value            any            `json:"value"`
	Attributes       map[string]any `json:"attributes"`
	Geometry         *esri.Geometry `json:"geometry"`
}

// Run executes the identify request.
func (i *IdentifyFeatures) Run(ctx context.Context) (*esri.FeatureCollection, error) {
	if _, ok := i.params["geometry"]; !ok && i.err == nil {
		return nil, fmt.Errorf("tasks: identify needs a location, call At first")
	}
	var out struct {
		Results []identifyResult `json:"results"`
	}
	if err := i.request(ctx, nil, &out); err != nil {
		return nil, err
	}

	fc := esri.NewFeatureCollection()
	for _, r := range out.Results {
		feat := esri.NewFeature(esri.ToGeoJSON(r.Geometry))
		feat.Properties = mergeProperties(map[string]any{
			"layerId":   r.LayerID,
			"layerName": r.LayerName,
		}, r.Attributes)
		fc.Append(feat)
	}
	return fc, nil
}
