package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joeblew999/plat-esri/pkg/esri"
)

// IdentifyImage builds an image service /identify request.
type IdentifyImage struct {
	*Task
}

// NewIdentifyImage creates an identify task against an ImageServer URL.
func NewIdentifyImage(serviceURL string, opts ...Option) (*IdentifyImage, error) {
	t, err := newTask(serviceURL, "identify", opts)
	if err != nil {
		return nil, err
	}
	t.params["returnGeometry"] = false
	t.params["returnCatalogItems"] = false
	return &IdentifyImage{Task: t}, nil
}

func (i *IdentifyImage) At(point any) *IdentifyImage {
	i.setGeometry(point)
	return i
}

func (i *IdentifyImage) PixelSize(x, y float64) *IdentifyImage {
	i.set("pixelSize", []float64{x, y})
	return i
}

func (i *IdentifyImage) RenderingRule(rule map[string]any) *IdentifyImage {
	i.set("renderingRule", rule)
	return i
}

func (i *IdentifyImage) MosaicRule(rule map[string]any) *IdentifyImage {
	i.set("mosaicRule", rule)
	return i
}

func (i *IdentifyImage) ReturnCatalogItems(v bool) *IdentifyImage {
	i.set("returnCatalogItems", v)
	return i
}

func (i *IdentifyImage) ReturnGeometry(v bool) *IdentifyImage {
	i.set("returnGeometry", v)
	return i
}

func (i *IdentifyImage) Token(token string) *IdentifyImage {
	i.token = token
	return i
}

// PixelResult is one identified pixel. Value is nil when the service did
// not return one.
type PixelResult struct {
	Value      any            `json:"value"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ImageIdentifyResult is the normalized image identify response.
type ImageIdentifyResult struct {
	Results      []PixelResult           `json:"results"`
	Location     *esri.LngLat            `json:"location,omitempty"`
	CatalogItems *esri.FeatureCollection `json:"catalogItems,omitempty"`
}

// GetPixelValues returns one value per result, nil where missing.
func (r *ImageIdentifyResult) GetPixelValues() []any {
	if r == nil {
		return nil
	}
	values := make([]any, len(r.Results))
	for i, res := range r.Results {
		values[i] = res.Value
	}
	return values
}

type imageIdentifyResponse struct {
	Results []struct {
		Value      any            `json:"value"`
		Attributes map[string]any `json:"attributes"`
	} `json:"results"`
	Value        json.RawMessage  `json:"value"`
	Values       []any            `json:"values"`
	Properties   map[string]any   `json:"properties"`
	Location     *esri.Geometry   `json:"location"`
	CatalogItems *esri.FeatureSet `json:"catalogItems"`
}

// Run executes the identify request and normalizes the response shapes:
// results[], a single value or a values[] list with shared properties.
func (i *IdentifyImage) Run(ctx context.Context) (*ImageIdentifyResult, error) {
	if _, ok := i.params["geometry"]; !ok && i.err == nil {
		return nil, fmt.Errorf("tasks: identify needs a location, call At first")
	}
	var out imageIdentifyResponse
	if err := i.request(ctx, nil, &out); err != nil {
		return nil, err
	}
	return normalizeImageIdentify(&out), nil
}

func normalizeImageIdentify(out *imageIdentifyResponse) *ImageIdentifyResult {
	res := &ImageIdentifyResult{Results: []PixelResult{}}
	switch {
	case len(out.Results) > 0:
		for _, r := range out.Results {
			res.Results = append(res.Results, PixelResult{Value: r.Value, Attributes: r.Attributes})
		}
	case len(out.Values) > 0:
		for _, v := range out.Values {
			res.Results = append(res.Results, PixelResult{Value: v, Attributes: out.Properties})
		}
	case out.Value != nil:
		var v any
		if err := json.Unmarshal(out.Value, &v); err != nil {
			v = nil
		}
		res.Results = append(res.Results, PixelResult{Value: v, Attributes: out.Properties})
	}
	if out.Location.IsPoint() {
		res.Location = &esri.LngLat{Lng: *out.Location.X, Lat: *out.Location.Y}
	}
	if out.CatalogItems != nil {
		res.CatalogItems = out.CatalogItems.ToGeoJSON()
	}
	return res
}
