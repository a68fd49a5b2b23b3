package services

import (
	"context"
	"net/url"
	"strings"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

const defaultColor = "#3388ff"

// DefaultStyle returns the layer used to draw a GeoJSON source of the given
// Esri geometry type: points as circles, polylines as lines and polygons as
// fills. Unknown types draw as circles.
func DefaultStyle(layerID, sourceID, geometryType string) *maplibre.Layer {
	l := &maplibre.Layer{ID: layerID, Source: sourceID}
	switch geometryType {
	case esri.GeometryPolyline:
		l.Type = "line"
		l.Paint = map[string]any{
			"line-color": defaultColor,
			"line-width": 2,
		}
	case esri.GeometryPolygon, esri.GeometryEnvelope:
		l.Type = "fill"
		l.Paint = map[string]any{
			"fill-color":         defaultColor,
			"fill-opacity":       0.4,
			"fill-outline-color": "#1f5fbf",
		}
	default:
		l.Type = "circle"
		l.Paint = map[string]any{
			"circle-radius":       5,
			"circle-color":        defaultColor,
			"circle-stroke-color": "#ffffff",
			"circle-stroke-width": 1,
		}
	}
	return l
}

// vectorStyle loads a VectorTileServer's default style and points its
// layers at sourceID.
func vectorStyle(ctx context.Context, c *esri.Client, serviceURL, stylesPath, token, sourceID string) ([]*maplibre.Layer, error) {
	if stylesPath == "" {
		stylesPath = "resources/styles"
	}
	endpoint := serviceURL + "/" + strings.Trim(stylesPath, "/") + "/root.json"
	params := url.Values{}
	if token != "" {
		params.Set("token", token)
	}
	var style maplibre.Style
	if err := c.Get(ctx, endpoint, params, &style); err != nil {
		return nil, err
	}
	for _, l := range style.Layers {
		if l.Source != "" {
			l.Source = sourceID
		}
		l.ID = sourceID + "/" + l.ID
	}
	return style.Layers, nil
}
