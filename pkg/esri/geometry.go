package esri

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Esri geometry type names used by geometryType parameters.
const (
	GeometryPoint      = "esriGeometryPoint"
	GeometryMultipoint = "esriGeometryMultipoint"
	GeometryPolyline   = "esriGeometryPolyline"
	GeometryPolygon    = "esriGeometryPolygon"
	GeometryEnvelope   = "esriGeometryEnvelope"
)

// WGS84 is the spatial reference all normalized inputs are expressed in.
var WGS84 = &SpatialReference{WKID: 4326}

// SpatialReference identifies a coordinate system.
type SpatialReference struct {
	WKID       int    `json:"wkid,omitempty"`
	LatestWKID int    `json:"latestWkid,omitempty"`
	WKT        string `json:"wkt,omitempty"`
}

// Geometry is an Esri JSON geometry. Which members are set decides its shape.
type Geometry struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`

	Points [][]float64   `json:"points,omitempty"`
	Paths  [][][]float64 `json:"paths,omitempty"`
	Rings  [][][]float64 `json:"rings,omitempty"`

	XMin *float64 `json:"xmin,omitempty"`
	YMin *float64 `json:"ymin,omitempty"`
	XMax *float64 `json:"xmax,omitempty"`
	YMax *float64 `json:"ymax,omitempty"`

	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// LngLat is a longitude/latitude pair.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Bounds is a south-west / north-east corner pair.
type Bounds struct {
	SouthWest LngLat `json:"_southWest"`
	NorthEast LngLat `json:"_northEast"`
}

// Bound converts the corners into an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.SouthWest.Lng, b.SouthWest.Lat},
		Max: orb.Point{b.NorthEast.Lng, b.NorthEast.Lat},
	}
}

// NewPoint returns a WGS84 point geometry.
func NewPoint(x, y float64) *Geometry {
	return &Geometry{X: &x, Y: &y, SpatialReference: WGS84}
}

// NewEnvelope returns a WGS84 envelope geometry covering b.
func NewEnvelope(b orb.Bound) *Geometry {
	xmin, ymin, xmax, ymax := b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	return &Geometry{XMin: &xmin, YMin: &ymin, XMax: &xmax, YMax: &ymax, SpatialReference: WGS84}
}

// IsPoint reports whether the geometry carries x and y.
func (g *Geometry) IsPoint() bool {
	return g != nil && g.X != nil && g.Y != nil
}

// IsEnvelope reports whether all four envelope corners are set.
func (g *Geometry) IsEnvelope() bool {
	return g != nil && g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil
}

// Type infers the Esri geometry type, or "" when the shape is unknown.
func (g *Geometry) Type() string {
	switch {
	case g == nil:
		return ""
	case g.IsPoint():
		return GeometryPoint
	case len(g.Rings) > 0:
		return GeometryPolygon
	case len(g.Paths) > 0:
		return GeometryPolyline
	case g.IsEnvelope():
		return GeometryEnvelope
	case len(g.Points) > 0:
		return GeometryMultipoint
	}
	return ""
}

// Bound returns the envelope of an envelope geometry.
func (g *Geometry) Bound() orb.Bound {
	if g.IsEnvelope() {
		return orb.Bound{Min: orb.Point{*g.XMin, *g.YMin}, Max: orb.Point{*g.XMax, *g.YMax}}
	}
	if gj := ToGeoJSON(g); gj != nil {
		return gj.Coordinates.Bound()
	}
	return orb.Bound{}
}

// ToGeoJSON converts an Esri geometry. Points become Point, envelopes and
// rings become Polygon, a single path becomes LineString and several paths a
// MultiLineString. Anything else yields nil.
func ToGeoJSON(g *Geometry) *geojson.Geometry {
	switch {
	case g == nil:
		return nil
	case g.IsPoint():
		return geojson.NewGeometry(orb.Point{*g.X, *g.Y})
	case len(g.Rings) > 0:
		poly := make(orb.Polygon, 0, len(g.Rings))
		for _, r := range g.Rings {
			ring := orb.Ring(toLineString(r))
			if len(ring) == 0 {
				continue
			}
			if ring[0] != ring[len(ring)-1] {
				ring = append(ring, ring[0])
			}
			poly = append(poly, ring)
		}
		return geojson.NewGeometry(poly)
	case len(g.Paths) == 1:
		return geojson.NewGeometry(toLineString(g.Paths[0]))
	case len(g.Paths) > 1:
		mls := make(orb.MultiLineString, 0, len(g.Paths))
		for _, p := range g.Paths {
			mls = append(mls, toLineString(p))
		}
		return geojson.NewGeometry(mls)
	case g.IsEnvelope():
		return geojson.NewGeometry(g.Bound().ToPolygon())
	}
	return nil
}

func toLineString(coords [][]float64) orb.LineString {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		ls = append(ls, orb.Point{c[0], c[1]})
	}
	return ls
}

func fromPoints(points []orb.Point) [][]float64 {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p[0], p[1]}
	}
	return coords
}

// FromOrb converts an orb geometry into Esri JSON and its geometry type.
// Polygon outer rings are written clockwise and holes counter-clockwise.
func FromOrb(geom orb.Geometry) (*Geometry, string, error) {
	switch g := geom.(type) {
	case orb.Point:
		return NewPoint(g[0], g[1]), GeometryPoint, nil
	case orb.MultiPoint:
		return &Geometry{Points: fromPoints(g), SpatialReference: WGS84}, GeometryMultipoint, nil
	case orb.LineString:
		return &Geometry{Paths: [][][]float64{fromPoints(g)}, SpatialReference: WGS84}, GeometryPolyline, nil
	case orb.MultiLineString:
		paths := make([][][]float64, len(g))
		for i, ls := range g {
			paths[i] = fromPoints(ls)
		}
		return &Geometry{Paths: paths, SpatialReference: WGS84}, GeometryPolyline, nil
	case orb.Ring:
		return &Geometry{Rings: polygonRings(orb.Polygon{g}), SpatialReference: WGS84}, GeometryPolygon, nil
	case orb.Polygon:
		return &Geometry{Rings: polygonRings(g), SpatialReference: WGS84}, GeometryPolygon, nil
	case orb.MultiPolygon:
		var rings [][][]float64
		for _, p := range g {
			rings = append(rings, polygonRings(p)...)
		}
		return &Geometry{Rings: rings, SpatialReference: WGS84}, GeometryPolygon, nil
	case orb.Bound:
		return NewEnvelope(g), GeometryEnvelope, nil
	}
	return nil, "", fmt.Errorf("%w: %T", ErrUnsupportedGeometry, geom)
}

func polygonRings(p orb.Polygon) [][][]float64 {
	rings := make([][][]float64, 0, len(p))
	for i, r := range p {
		ring := make(orb.Ring, len(r))
		copy(ring, r)
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		rings = append(rings, fromPoints(ring))
	}
	return rings
}

// NormalizeGeometry turns the accepted geometry inputs into Esri JSON plus
// the matching geometryType. A LngLat, [2]float64 or orb.Point becomes a
// WGS84 point; Bounds and orb.Bound become an envelope.
func NormalizeGeometry(v any) (*Geometry, string, error) {
	switch g := v.(type) {
	case nil:
		return nil, "", fmt.Errorf("%w: nil", ErrUnsupportedGeometry)
	case LngLat:
		return NewPoint(g.Lng, g.Lat), GeometryPoint, nil
	case *LngLat:
		return NormalizeGeometry(*g)
	case [2]float64:
		return NewPoint(g[0], g[1]), GeometryPoint, nil
	case []float64:
		if len(g) < 2 {
			return nil, "", fmt.Errorf("%w: coordinate needs two values", ErrUnsupportedGeometry)
		}
		return NewPoint(g[0], g[1]), GeometryPoint, nil
	case Bounds:
		return NewEnvelope(g.Bound()), GeometryEnvelope, nil
	case *Bounds:
		return NormalizeGeometry(*g)
	case *geojson.Geometry:
		if g == nil {
			return nil, "", fmt.Errorf("%w: nil", ErrUnsupportedGeometry)
		}
		return FromOrb(g.Geometry())
	case *geojson.Feature:
		return FromOrb(g.Geometry)
	case *Feature:
		if g.Geometry == nil {
			return nil, "", fmt.Errorf("%w: feature without geometry", ErrUnsupportedGeometry)
		}
		return FromOrb(g.Geometry.Geometry())
	case *Geometry:
		t := g.Type()
		if t == "" {
			return nil, "", fmt.Errorf("%w: unknown esri shape", ErrUnsupportedGeometry)
		}
		return g, t, nil
	case Geometry:
		return NormalizeGeometry(&g)
	case orb.Geometry:
		return FromOrb(g)
	}
	return nil, "", fmt.Errorf("%w: %T", ErrUnsupportedGeometry, v)
}
