package esri

import (
	"context"
	"fmt"
	"net/url"

	"github.com/paulmach/orb"
)

// Extent is an Esri envelope with its spatial reference.
type Extent struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Bound converts the extent into an orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.XMin, e.YMin}, Max: orb.Point{e.XMax, e.YMax}}
}

// Field describes one attribute field of a layer.
type Field struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Alias  string         `json:"alias,omitempty"`
	Length int            `json:"length,omitempty"`
	Domain map[string]any `json:"domain,omitempty"`
}

// LayerInfo is the metadata of one sublayer.
type LayerInfo struct {
	ID                   int            `json:"id"`
	Name                 string         `json:"name"`
	Type                 string         `json:"type,omitempty"`
	GeometryType         string         `json:"geometryType,omitempty"`
	Description          string         `json:"description,omitempty"`
	DefinitionExpression string         `json:"definitionExpression,omitempty"`
	ParentLayerID        int            `json:"parentLayerId"`
	SubLayerIDs          []int          `json:"subLayerIds,omitempty"`
	DefaultVisibility    bool           `json:"defaultVisibility"`
	MinScale             float64        `json:"minScale,omitempty"`
	MaxScale             float64        `json:"maxScale,omitempty"`
	Extent               *Extent        `json:"extent,omitempty"`
	Fields               []Field        `json:"fields,omitempty"`
	DrawingInfo          map[string]any `json:"drawingInfo,omitempty"`
	CopyrightText        string         `json:"copyrightText,omitempty"`
}

// TileInfo describes the cache scheme of a tiled service.
type TileInfo struct {
	Rows             int               `json:"rows"`
	Cols             int               `json:"cols"`
	Format           string            `json:"format,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
	LODs             []struct {
		Level      int     `json:"level"`
		Resolution float64 `json:"resolution"`
		Scale      float64 `json:"scale"`
	} `json:"lods,omitempty"`
}

// ServiceMetadata is the subset of a service's ?f=json document the
// adapters use.
type ServiceMetadata struct {
	Name                  string            `json:"name,omitempty"`
	MapName               string            `json:"mapName,omitempty"`
	ServiceDescription    string            `json:"serviceDescription,omitempty"`
	Description           string            `json:"description,omitempty"`
	CopyrightText         string            `json:"copyrightText,omitempty"`
	GeometryType          string            `json:"geometryType,omitempty"`
	Capabilities          string            `json:"capabilities,omitempty"`
	SupportedQueryFormats string            `json:"supportedQueryFormats,omitempty"`
	MaxRecordCount        int               `json:"maxRecordCount,omitempty"`
	SingleFusedMapCache   bool              `json:"singleFusedMapCache,omitempty"`
	SpatialReference      *SpatialReference `json:"spatialReference,omitempty"`
	InitialExtent         *Extent           `json:"initialExtent,omitempty"`
	FullExtent            *Extent           `json:"fullExtent,omitempty"`
	Extent                *Extent           `json:"extent,omitempty"`
	TileInfo              *TileInfo         `json:"tileInfo,omitempty"`
	Layers                []LayerInfo       `json:"layers,omitempty"`
	Tables                []LayerInfo       `json:"tables,omitempty"`
	Fields                []Field           `json:"fields,omitempty"`
	DrawingInfo           map[string]any    `json:"drawingInfo,omitempty"`
	ObjectIDField         string            `json:"objectIdField,omitempty"`

	// VectorTileServer members.
	Tiles         []string `json:"tiles,omitempty"`
	DefaultStyles string   `json:"defaultStyles,omitempty"`
	MinZoom       *float64 `json:"minzoom,omitempty"`
	MaxZoom       *float64 `json:"maxzoom,omitempty"`
}

// Attribution returns the copyright text to show for the service.
func (m *ServiceMetadata) Attribution() string {
	if m == nil {
		return ""
	}
	return m.CopyrightText
}

// GetServiceDetails fetches <serviceURL>?f=json.
func GetServiceDetails(ctx context.Context, c *Client, serviceURL, token string) (*ServiceMetadata, error) {
	if serviceURL == "" {
		return nil, ErrMissingURL
	}
	if c == nil {
		c = DefaultClient
	}
	params := url.Values{"f": {"json"}}
	if token != "" {
		params.Set("token", token)
	}
	var md ServiceMetadata
	if err := c.Get(ctx, CleanURL(serviceURL), params, &md); err != nil {
		return nil, fmt.Errorf("failed to fetch service metadata: %w", err)
	}
	return &md, nil
}
