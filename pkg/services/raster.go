package services

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// TimeRange restricts a service to a time extent.
type TimeRange struct {
	From time.Time `json:"from" yaml:"from" doc:"Start of the time extent"`
	To   time.Time `json:"to" yaml:"to" doc:"End of the time extent"`
}

func (t *TimeRange) param() string {
	return strconv.FormatInt(t.From.UnixMilli(), 10) + "," + strconv.FormatInt(t.To.UnixMilli(), 10)
}

// queryParams collects ordered URL parameters, skipping empty optional ones.
type queryParams []esri.Param

func (q *queryParams) add(key, value string) {
	*q = append(*q, esri.Param{Key: key, Value: value})
}

func (q *queryParams) raw(key, value string) {
	*q = append(*q, esri.Param{Key: key, Value: value, Raw: true})
}

func (q *queryParams) opt(key, value string) {
	if value != "" {
		q.add(key, value)
	}
}

// json adds a JSON-encoded parameter when v is not empty.
func (q *queryParams) json(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q.add(key, string(b))
	return nil
}

// rasterParams starts an export template in Web Mercator tiles.
func rasterParams(tileSize int) queryParams {
	size := strconv.Itoa(tileSize)
	var q queryParams
	q.raw("bbox", "{bbox-epsg-3857}")
	q.add("bboxSR", "3857")
	q.add("imageSR", "3857")
	q.add("size", size+","+size)
	q.add("f", "image")
	return q
}

func rasterSource(tmpl string, o SourceOptions) *maplibre.Source {
	return o.apply(&maplibre.Source{
		Type:     maplibre.SourceRaster,
		Tiles:    []string{tmpl},
		TileSize: o.tileSize(),
	})
}

func boolParam(v *bool, def bool) string {
	if v == nil {
		return strconv.FormatBool(def)
	}
	return strconv.FormatBool(*v)
}
