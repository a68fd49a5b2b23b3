package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeblew999/plat-esri/pkg/esri"
)

// Find builds a map service /find request.
type Find struct {
	*Task
}

// NewFind creates a find task against a MapServer URL.
func NewFind(serviceURL string, opts ...Option) (*Find, error) {
	t, err := newTask(serviceURL, "find", opts)
	if err != nil {
		return nil, err
	}
	t.params["sr"] = 4326
	t.params["contains"] = true
	t.params["returnGeometry"] = true
	t.params["returnZ"] = true
	t.params["returnM"] = false
	return &Find{Task: t}, nil
}

func (f *Find) SearchText(text string) *Find {
	if strings.TrimSpace(text) == "" {
		f.fail(fmt.Errorf("tasks: find needs search text"))
		return f
	}
	f.set("searchText", text)
	return f
}

// Contains toggles substring matching; false requires exact matches.
func (f *Find) Contains(v bool) *Find {
	f.set("contains", v)
	return f
}

func (f *Find) SearchFields(fields ...string) *Find {
	f.set("searchFields", fields)
	return f
}

func (f *Find) Layers(ids ...int) *Find {
	f.set("layers", ids)
	return f
}

// LayerDef adds a definition expression for one layer without touching the
// others.
func (f *Find) LayerDef(id int, where string) *Find {
	f.appendLayerDef(id, where)
	return f
}

func (f *Find) SpatialReference(wkid int) *Find {
	f.set("sr", wkid)
	return f
}

func (f *Find) ReturnGeometry(v bool) *Find {
	f.set("returnGeometry", v)
	return f
}

func (f *Find) MaxAllowableOffset(v float64) *Find {
	f.set("maxAllowableOffset", v)
	return f
}

func (f *Find) Precision(digits int) *Find {
	f.set("geometryPrecision", digits)
	return f
}

func (f *Find) DynamicLayers(layers any) *Find {
	f.set("dynamicLayers", layers)
	return f
}

func (f *Find) ReturnZ(v bool) *Find {
	f.set("returnZ", v)
	return f
}

func (f *Find) ReturnM(v bool) *Find {
	f.set("returnM", v)
	return f
}

func (f *Find) GDBVersion(version string) *Find {
	f.set("gdbVersion", version)
	return f
}

func (f *Find) Token(token string) *Find {
	f.token = token
	return f
}

type findResult struct {
	LayerID        int            `json:"layerId"`
	LayerName      string         `json:"layerName"`
	FoundFieldName string         `json:"foundFieldName"`
	Value          any            `json:"value"`
	GeometryType   string         `json:"geometryType"`
	Attributes     map[string]any `json:"attributes"`
	Geometry       *esri.Geometry `json:"geometry"`
}

// Run executes the search. Results whose geometry cannot be converted are
// kept with a null geometry.
func (f *Find) Run(ctx context.Context) (*esri.FeatureCollection, error) {
	var out struct {
		Results []findResult `json:"results"`
	}
	if err := f.request(ctx, nil, &out); err != nil {
		return nil, err
	}

	fc := esri.NewFeatureCollection()
	for _, r := range out.Results {
		feat := esri.NewFeature(esri.ToGeoJSON(r.Geometry))
		feat.Properties = mergeProperties(map[string]any{
			"layerId":        r.LayerID,
			"layerName":      r.LayerName,
			"foundFieldName": r.FoundFieldName,
			"value":          r.Value,
		}, r.Attributes)
		fc.Append(feat)
	}
	return fc, nil
}
