package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// Spatial relationships accepted by the query endpoint.
const (
	RelIntersects      = "esriSpatialRelIntersects"
	RelContains        = "esriSpatialRelContains"
	RelWithin          = "esriSpatialRelWithin"
	RelCrosses         = "esriSpatialRelCrosses"
	RelTouches         = "esriSpatialRelTouches"
	RelOverlaps        = "esriSpatialRelOverlaps"
	RelEnvelopeInts    = "esriSpatialRelEnvelopeIntersects"
	RelIndexIntersects = "esriSpatialRelIndexIntersects"
)

// Statistic is one outStatistics entry.
type Statistic struct {
	Type    string `json:"statisticType" yaml:"statisticType" doc:"count, sum, min, max, avg, stddev or var"`
	Field   string `json:"onStatisticField" yaml:"onStatisticField" doc:"Field the statistic is computed on"`
	OutName string `json:"outStatisticFieldName" yaml:"outStatisticFieldName" doc:"Name of the output field"`
}

// Query builds a feature layer /query request.
type Query struct {
	*Task
	orderBy []string
}

// NewQuery creates a query against a feature or map service layer URL.
func NewQuery(layerURL string, opts ...Option) (*Query, error) {
	t, err := newTask(layerURL, "query", opts)
	if err != nil {
		return nil, err
	}
	t.params["where"] = "1=1"
	t.params["outSR"] = 4326
	t.params["outFields"] = "*"
	t.params["returnGeometry"] = true
	return &Query{Task: t}, nil
}

func (q *Query) Where(where string) *Query {
	if strings.TrimSpace(where) == "" {
		where = "1=1"
	}
	q.set("where", where)
	return q
}

// WhereFilter renders a filter expression into the where clause.
func (q *Query) WhereFilter(f esri.Filter) *Query {
	if err := esri.ValidateFilter(f); err != nil {
		q.fail(err)
		return q
	}
	return q.Where(f.SQL())
}

func (q *Query) spatial(g any, rel string) *Query {
	if q.setGeometry(g) {
		q.set("spatialRel", rel)
		q.set("inSR", 4326)
	}
	return q
}

// Intersects selects features that intersect g.
func (q *Query) Intersects(g any) *Query { return q.spatial(g, RelIntersects) }

// Contains selects features that contain g.
func (q *Query) Contains(g any) *Query { return q.spatial(g, RelContains) }

// Within selects features that lie within g.
func (q *Query) Within(g any) *Query { return q.spatial(g, RelWithin) }

// Crosses selects features that cross g.
func (q *Query) Crosses(g any) *Query { return q.spatial(g, RelCrosses) }

// Touches selects features that share a boundary with g.
func (q *Query) Touches(g any) *Query { return q.spatial(g, RelTouches) }

// Overlaps selects features that overlap g.
func (q *Query) Overlaps(g any) *Query { return q.spatial(g, RelOverlaps) }

// BBoxIntersects selects features whose envelope intersects g's envelope.
func (q *Query) BBoxIntersects(g any) *Query { return q.spatial(g, RelEnvelopeInts) }

// IndexIntersects selects features whose index entry intersects g's envelope.
func (q *Query) IndexIntersects(g any) *Query { return q.spatial(g, RelIndexIntersects) }

// Nearby selects features within meters of a point.
func (q *Query) Nearby(point any, meters float64) *Query {
	if meters <= 0 {
		q.fail(fmt.Errorf("tasks: nearby distance must be positive, got %v", meters))
		return q
	}
	q.spatial(point, RelIntersects)
	q.set("units", "esriSRUnit_Meter")
	q.set("distance", meters)
	return q
}

func (q *Query) OutFields(fields ...string) *Query {
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	q.set("outFields", fields)
	return q
}

func (q *Query) ReturnGeometry(v bool) *Query {
	q.set("returnGeometry", v)
	return q
}

// OrderBy appends a sort field; order is ASC or DESC.
func (q *Query) OrderBy(field, order string) *Query {
	order = strings.ToUpper(strings.TrimSpace(order))
	if order == "" {
		order = "ASC"
	}
	if order != "ASC" && order != "DESC" {
		q.fail(fmt.Errorf("tasks: invalid sort order %q", order))
		return q
	}
	q.orderBy = append(q.orderBy, field+" "+order)
	q.set("orderByFields", strings.Join(q.orderBy, ","))
	return q
}

func (q *Query) Limit(n int) *Query {
	if n < 0 {
		q.fail(fmt.Errorf("tasks: negative limit %d", n))
		return q
	}
	q.set("resultRecordCount", n)
	return q
}

func (q *Query) Offset(n int) *Query {
	if n < 0 {
		q.fail(fmt.Errorf("tasks: negative offset %d", n))
		return q
	}
	q.set("resultOffset", n)
	return q
}

func (q *Query) Precision(digits int) *Query {
	q.set("geometryPrecision", digits)
	return q
}

func (q *Query) FeatureIDs(ids ...int) *Query {
	q.set("objectIds", ids)
	return q
}

// Simplify sets maxAllowableOffset from the map's current resolution.
func (q *Query) Simplify(m maplibre.Map, factor float64) *Query {
	q.set("maxAllowableOffset", simplifyOffset(m, factor))
	return q
}

// Between restricts the query to a time extent.
func (q *Query) Between(from, to time.Time) *Query {
	if to.Before(from) {
		q.fail(fmt.Errorf("tasks: time range ends before it starts"))
		return q
	}
	q.set("time", strconv.FormatInt(from.UnixMilli(), 10)+","+strconv.FormatInt(to.UnixMilli(), 10))
	return q
}

func (q *Query) Distinct() *Query {
	q.set("returnGeometry", false)
	q.set("returnDistinctValues", true)
	return q
}

// Layer targets sublayer id of a map service.
func (q *Query) Layer(id int) *Query {
	q.path = strconv.Itoa(id) + "/query"
	return q
}

func (q *Query) OutStatistics(stats ...Statistic) *Query {
	for _, s := range stats {
		if s.Type == "" || s.Field == "" {
			q.fail(fmt.Errorf("tasks: statistic needs a type and a field"))
			return q
		}
	}
	q.set("outStatistics", stats)
	return q
}

func (q *Query) GroupBy(fields ...string) *Query {
	q.set("groupByFieldsForStatistics", fields)
	return q
}

func (q *Query) OutSR(wkid int) *Query {
	q.set("outSR", wkid)
	return q
}

func (q *Query) Token(token string) *Query {
	q.token = token
	return q
}

// Run executes the query. The body may be GeoJSON or an Esri feature set.
func (q *Query) Run(ctx context.Context) (*esri.FeatureCollection, error) {
	var raw json.RawMessage
	if err := q.request(ctx, nil, &raw); err != nil {
		return nil, err
	}
	return decodeFeatures(raw)
}

// RunGeoJSON executes the query with f=geojson.
func (q *Query) RunGeoJSON(ctx context.Context) (*esri.FeatureCollection, error) {
	var raw json.RawMessage
	if err := q.request(ctx, map[string]any{"f": "geojson"}, &raw); err != nil {
		return nil, err
	}
	return decodeFeatures(raw)
}

func decodeFeatures(raw []byte) (*esri.FeatureCollection, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, err
	}
	if peek.Type == "FeatureCollection" {
		fc := esri.NewFeatureCollection()
		if err := json.Unmarshal(raw, fc); err != nil {
			return nil, err
		}
		if fc.Features == nil {
			fc.Features = []*esri.Feature{}
		}
		return fc, nil
	}

	var fs esri.FeatureSet
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, err
	}
	return fs.ToGeoJSON(), nil
}

// Count returns the number of matching features.
func (q *Query) Count(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := q.request(ctx, map[string]any{"returnCountOnly": true}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// IDs returns the object ids of matching features.
func (q *Query) IDs(ctx context.Context) ([]int, error) {
	var out struct {
		ObjectIDs []int `json:"objectIds"`
	}
	if err := q.request(ctx, map[string]any{"returnIdsOnly": true}, &out); err != nil {
		return nil, err
	}
	return out.ObjectIDs, nil
}

// Bounds returns the extent of matching features in WGS84.
func (q *Query) Bounds(ctx context.Context) (orb.Bound, error) {
	var out struct {
		Extent *esri.Extent `json:"extent"`
	}
	if err := q.request(ctx, map[string]any{"returnExtentOnly": true, "outSR": 4326}, &out); err != nil {
		return orb.Bound{}, err
	}
	if out.Extent == nil {
		return orb.Bound{}, fmt.Errorf("tasks: invalid bounds returned")
	}
	return out.Extent.Bound(), nil
}

// Statistics runs an outStatistics query and returns one attribute map per
// group.
func (q *Query) Statistics(ctx context.Context) ([]map[string]any, error) {
	if _, ok := q.params["outStatistics"]; !ok {
		return nil, fmt.Errorf("tasks: statistics query needs OutStatistics")
	}
	var fs esri.FeatureSet
	if err := q.request(ctx, map[string]any{"returnGeometry": false}, &fs); err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(fs.Features))
	for i, f := range fs.Features {
		rows[i] = f.Attributes
	}
	return rows, nil
}
