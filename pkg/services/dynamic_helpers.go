package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

func (s *DynamicMapService) taskOptions() []tasks.Option {
	o := s.Options()
	opts := []tasks.Option{tasks.WithClient(s.client)}
	if o.Token != "" {
		opts = append(opts, tasks.WithToken(o.Token))
	}
	return opts
}

func (s *DynamicMapService) values(extra url.Values) url.Values {
	v := url.Values{"f": {"json"}}
	if tok := s.Options().Token; tok != "" {
		v.Set("token", tok)
	}
	for k, vals := range extra {
		v[k] = vals
	}
	return v
}

// StatisticsOptions narrow a statistics query.
type StatisticsOptions struct {
	Where   string   `json:"where,omitempty" doc:"Where clause"`
	GroupBy []string `json:"groupBy,omitempty" doc:"Group-by fields"`
}

// GetLayerStatistics runs outStatistics against one sublayer.
func (s *DynamicMapService) GetLayerStatistics(ctx context.Context, layerID int, stats []tasks.Statistic, opts StatisticsOptions) ([]map[string]any, error) {
	q, err := tasks.NewQuery(s.Options().URL, s.taskOptions()...)
	if err != nil {
		return nil, prefixed("Statistics query failed", err)
	}
	q.Layer(layerID).Where(opts.Where).OutStatistics(stats...)
	if len(opts.GroupBy) > 0 {
		q.GroupBy(opts.GroupBy...)
	}
	rows, err := q.Statistics(ctx)
	if err != nil {
		return nil, prefixed("Statistics query failed", err)
	}
	return rows, nil
}

// LegendItem is one symbol of a layer legend.
type LegendItem struct {
	Label       string   `json:"label"`
	URL         string   `json:"url,omitempty"`
	ImageData   string   `json:"imageData,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Height      int      `json:"height,omitempty"`
	Width       int      `json:"width,omitempty"`
	Values      []string `json:"values,omitempty"`
}

// LayerLegend is the legend of one sublayer.
type LayerLegend struct {
	LayerID   int          `json:"layerId"`
	LayerName string       `json:"layerName"`
	LayerType string       `json:"layerType,omitempty"`
	MinScale  float64      `json:"minScale,omitempty"`
	MaxScale  float64      `json:"maxScale,omitempty"`
	Legend    []LegendItem `json:"legend"`
}

// GenerateLegend fetches /legend, limited to ids when given.
func (s *DynamicMapService) GenerateLegend(ctx context.Context, ids ...int) ([]LayerLegend, error) {
	var out struct {
		Layers []LayerLegend `json:"layers"`
	}
	if err := s.client.Get(ctx, s.Options().URL+"/legend", s.values(nil), &out); err != nil {
		return nil, prefixed("Legend generation failed", err)
	}
	if len(ids) == 0 {
		return out.Layers, nil
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	filtered := make([]LayerLegend, 0, len(ids))
	for _, l := range out.Layers {
		if want[l.LayerID] {
			filtered = append(filtered, l)
		}
	}
	return filtered, nil
}

// ExportOptions describe a one-off map image.
type ExportOptions struct {
	BBox        orb.Bound `json:"-"`
	BBoxSR      int       `json:"bboxSR,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	DPI         int       `json:"dpi,omitempty"`
	Format      string    `json:"format,omitempty"`
	Transparent *bool     `json:"transparent,omitempty"`
}

// ExportResult is the f=json answer of /export.
type ExportResult struct {
	Href   string       `json:"href"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Scale  float64      `json:"scale,omitempty"`
	Extent *esri.Extent `json:"extent,omitempty"`
}

// ExportMapImage renders the current layer configuration for a bbox.
func (s *DynamicMapService) ExportMapImage(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, prefixed("Export failed", fmt.Errorf("width and height must be positive"))
	}
	o := s.Options()
	bboxSR := opts.BBoxSR
	if bboxSR == 0 {
		bboxSR = 4326
	}
	format := opts.Format
	if format == "" {
		format = o.Format
	}
	if format == "" {
		format = "png24"
	}
	transparent := opts.Transparent
	if transparent == nil {
		transparent = o.Transparent
	}
	params := map[string]any{
		"bbox":        []float64{opts.BBox.Min[0], opts.BBox.Min[1], opts.BBox.Max[0], opts.BBox.Max[1]},
		"bboxSR":      bboxSR,
		"size":        []int{opts.Width, opts.Height},
		"format":      format,
		"transparent": boolParam(transparent, true),
	}
	if opts.DPI > 0 {
		params["dpi"] = opts.DPI
	}
	if len(o.Layers) > 0 {
		params["layers"] = "show:" + esri.JoinInts(o.Layers)
	}
	if len(o.LayerDefs) > 0 {
		defs := make(map[string]string, len(o.LayerDefs))
		for id, where := range o.LayerDefs {
			defs[strconv.Itoa(id)] = where
		}
		params["layerDefs"] = defs
	}
	if len(o.DynamicLayers) > 0 {
		params["dynamicLayers"] = o.DynamicLayers
	}
	if o.Time != nil {
		params["time"] = o.Time.param()
	}

	var out ExportResult
	if err := s.client.Get(ctx, o.URL+"/export", s.values(esri.EncodeParams(params)), &out); err != nil {
		return nil, prefixed("Export failed", err)
	}
	return &out, nil
}

// DiscoverLayers lists the service's layers and tables.
func (s *DynamicMapService) DiscoverLayers(ctx context.Context) ([]esri.LayerInfo, error) {
	var out struct {
		Layers []esri.LayerInfo `json:"layers"`
		Tables []esri.LayerInfo `json:"tables"`
	}
	if err := s.client.Get(ctx, s.Options().URL+"/layers", s.values(nil), &out); err != nil {
		return nil, prefixed("Layer discovery failed", err)
	}
	return append(out.Layers, out.Tables...), nil
}

// GetLayerInfo fetches one sublayer's metadata.
func (s *DynamicMapService) GetLayerInfo(ctx context.Context, layerID int) (*esri.LayerInfo, error) {
	var info esri.LayerInfo
	if err := s.client.Get(ctx, s.Options().URL+"/"+strconv.Itoa(layerID), s.values(nil), &info); err != nil {
		return nil, prefixed("Layer info failed", err)
	}
	return &info, nil
}

// GetLayerExtent returns a sublayer's extent.
func (s *DynamicMapService) GetLayerExtent(ctx context.Context, layerID int) (*esri.Extent, error) {
	info, err := s.GetLayerInfo(ctx, layerID)
	if err != nil {
		return nil, err
	}
	if info.Extent == nil {
		return nil, fmt.Errorf("No extent available for layer %d", layerID)
	}
	return info.Extent, nil
}

// GetLayerFields returns a sublayer's fields.
func (s *DynamicMapService) GetLayerFields(ctx context.Context, layerID int) ([]esri.Field, error) {
	info, err := s.GetLayerInfo(ctx, layerID)
	if err != nil {
		return nil, err
	}
	return info.Fields, nil
}

// QueryOptions narrow a feature query.
type QueryOptions struct {
	Where          string   `json:"where,omitempty" doc:"Where clause (default 1=1)"`
	OutFields      []string `json:"outFields,omitempty" doc:"Fields to return (default *)"`
	Geometry       any      `json:"-"`
	ReturnGeometry *bool    `json:"returnGeometry,omitempty" doc:"Return geometries (default true)"`
	Limit          int      `json:"limit,omitempty" doc:"Maximum number of features"`
}

func (o QueryOptions) applyTo(q *tasks.Query) {
	q.Where(o.Where)
	if len(o.OutFields) > 0 {
		q.OutFields(o.OutFields...)
	}
	if o.Geometry != nil {
		q.Intersects(o.Geometry)
	}
	if o.ReturnGeometry != nil {
		q.ReturnGeometry(*o.ReturnGeometry)
	}
	if o.Limit > 0 {
		q.Limit(o.Limit)
	}
}

// QueryLayerFeatures queries one sublayer.
func (s *DynamicMapService) QueryLayerFeatures(ctx context.Context, layerID int, opts QueryOptions) (*esri.FeatureCollection, error) {
	q, err := tasks.NewQuery(s.Options().URL, s.taskOptions()...)
	if err != nil {
		return nil, prefixed("Layer query failed", err)
	}
	q.Layer(layerID)
	opts.applyTo(q)
	fc, err := q.Run(ctx)
	if err != nil {
		return nil, prefixed("Layer query failed", err)
	}
	return fc, nil
}

// Identify finds features at point using the current layer selection,
// definitions and dynamic layers.
func (s *DynamicMapService) Identify(ctx context.Context, point any, returnGeometry bool) (*esri.FeatureCollection, error) {
	o := s.Options()
	id, err := tasks.NewIdentifyFeatures(o.URL, s.taskOptions()...)
	if err != nil {
		return nil, err
	}
	id.On(s.m).At(point).ReturnGeometry(returnGeometry)
	if len(o.Layers) > 0 {
		id.Layers(o.Layers...)
	}
	for _, lid := range sortedKeys(o.LayerDefs) {
		id.LayerDef(lid, o.LayerDefs[lid])
	}
	if len(o.DynamicLayers) > 0 {
		id.DynamicLayers(o.DynamicLayers)
	}
	return id.Run(ctx)
}
