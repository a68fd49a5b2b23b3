package services

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/joeblew999/plat-esri/pkg/esri"
)

// DynamicLayer overrides how one sublayer is drawn at request time.
type DynamicLayer struct {
	ID                   int          `json:"id" yaml:"id" doc:"Sublayer id"`
	Visible              *bool        `json:"visible,omitempty" yaml:"visible,omitempty" doc:"Layer visibility"`
	DrawingInfo          *DrawingInfo `json:"drawingInfo,omitempty" yaml:"drawingInfo,omitempty" doc:"Renderer and labels"`
	DefinitionExpression string       `json:"definitionExpression,omitempty" yaml:"definitionExpression,omitempty" doc:"Where clause"`
	Source               *LayerSource `json:"source,omitempty" yaml:"source,omitempty" doc:"Data source of the layer"`
}

// DrawingInfo holds renderer and label overrides.
type DrawingInfo struct {
	Renderer     map[string]any   `json:"renderer,omitempty" yaml:"renderer,omitempty"`
	LabelingInfo []map[string]any `json:"labelingInfo,omitempty" yaml:"labelingInfo,omitempty"`
	ShowLabels   *bool            `json:"showLabels,omitempty" yaml:"showLabels,omitempty"`
	Transparency *int             `json:"transparency,omitempty" yaml:"transparency,omitempty"`
}

// LayerSource points a dynamic layer at a published map layer.
type LayerSource struct {
	Type       string `json:"type" yaml:"type"`
	MapLayerID int    `json:"mapLayerId" yaml:"mapLayerId"`
}

func newDynamicLayer(id int) DynamicLayer {
	visible := true
	return DynamicLayer{
		ID:      id,
		Visible: &visible,
		Source:  &LayerSource{Type: "mapLayer", MapLayerID: id},
	}
}

func (l *DynamicLayer) drawingInfo() *DrawingInfo {
	if l.DrawingInfo == nil {
		l.DrawingInfo = &DrawingInfo{}
	}
	return l.DrawingInfo
}

func (l DynamicLayer) clone() DynamicLayer {
	c := l
	if l.Visible != nil {
		v := *l.Visible
		c.Visible = &v
	}
	if l.DrawingInfo != nil {
		di := *l.DrawingInfo
		if di.ShowLabels != nil {
			v := *di.ShowLabels
			di.ShowLabels = &v
		}
		di.LabelingInfo = append([]map[string]any(nil), l.DrawingInfo.LabelingInfo...)
		c.DrawingInfo = &di
	}
	if l.Source != nil {
		src := *l.Source
		c.Source = &src
	}
	return c
}

func cloneDynamicLayers(layers []DynamicLayer) []DynamicLayer {
	if layers == nil {
		return nil
	}
	out := make([]DynamicLayer, len(layers))
	for i, l := range layers {
		out[i] = l.clone()
	}
	return out
}

// patchDynamicLayer finds or appends the entry for id and applies fn to it.
// Entries for other ids are left as they are.
func patchDynamicLayer(layers []DynamicLayer, id int, fn func(l *DynamicLayer) error) ([]DynamicLayer, error) {
	for i := range layers {
		if layers[i].ID == id {
			l := layers[i].clone()
			if err := fn(&l); err != nil {
				return layers, err
			}
			out := cloneDynamicLayers(layers)
			out[i] = l
			return out, nil
		}
	}
	l := newDynamicLayer(id)
	if err := fn(&l); err != nil {
		return layers, err
	}
	return append(cloneDynamicLayers(layers), l), nil
}

// Bulk operation names.
const (
	OpRenderer      = "renderer"
	OpVisibility    = "visibility"
	OpDefinition    = "definition"
	OpFilter        = "filter"
	OpLabels        = "labels"
	OpLabelsVisible = "labelsVisible"
)

// LayerOperation is one entry of SetBulkLayerProperties.
type LayerOperation struct {
	LayerID   int    `json:"layerId" yaml:"layerId" doc:"Sublayer id"`
	Operation string `json:"operation" yaml:"operation" enum:"renderer,visibility,definition,filter,labels,labelsVisible" doc:"What to change"`
	Value     any    `json:"value" yaml:"value" doc:"New value"`
}

func (op LayerOperation) apply(l *DynamicLayer) error {
	switch op.Operation {
	case OpRenderer:
		r, ok := op.Value.(map[string]any)
		if !ok && op.Value != nil {
			return fmt.Errorf("services: renderer for layer %d must be an object", op.LayerID)
		}
		l.drawingInfo().Renderer = r
	case OpVisibility:
		v, ok := op.Value.(bool)
		if !ok {
			return fmt.Errorf("services: visibility for layer %d must be a boolean", op.LayerID)
		}
		l.Visible = &v
	case OpDefinition:
		where, ok := op.Value.(string)
		if !ok {
			return fmt.Errorf("services: definition for layer %d must be a string", op.LayerID)
		}
		l.DefinitionExpression = where
	case OpFilter:
		f, err := filterValue(op.Value)
		if err != nil {
			return fmt.Errorf("services: filter for layer %d: %w", op.LayerID, err)
		}
		l.DefinitionExpression = f.SQL()
	case OpLabels:
		info, err := labelingValue(op.Value)
		if err != nil {
			return fmt.Errorf("services: labels for layer %d: %w", op.LayerID, err)
		}
		di := l.drawingInfo()
		di.LabelingInfo = info
		show := true
		di.ShowLabels = &show
	case OpLabelsVisible:
		v, ok := op.Value.(bool)
		if !ok {
			return fmt.Errorf("services: labelsVisible for layer %d must be a boolean", op.LayerID)
		}
		l.drawingInfo().ShowLabels = &v
	default:
		return fmt.Errorf("services: unknown layer operation %q", op.Operation)
	}
	return nil
}

func filterValue(v any) (esri.Filter, error) {
	switch f := v.(type) {
	case esri.Filter:
		if err := esri.ValidateFilter(f); err != nil {
			return nil, err
		}
		return f, nil
	case esri.FilterSpec:
		return f.Build()
	case *esri.FilterSpec:
		return f.Build()
	case string:
		return esri.Raw(f), nil
	case map[string]any:
		b, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		var spec esri.FilterSpec
		if err := json.Unmarshal(b, &spec); err != nil {
			return nil, err
		}
		return spec.Build()
	}
	return nil, fmt.Errorf("%w: %T", esri.ErrInvalidFilter, v)
}

func labelingValue(v any) ([]map[string]any, error) {
	switch info := v.(type) {
	case []map[string]any:
		return info, nil
	case map[string]any:
		return []map[string]any{info}, nil
	case []any:
		out := make([]map[string]any, 0, len(info))
		for _, item := range info {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("labeling entries must be objects")
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported labeling info %T", v)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
