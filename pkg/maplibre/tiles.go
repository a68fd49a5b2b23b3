package maplibre

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TilesInBounds returns all tiles at a zoom level that intersect a bounding box.
func TilesInBounds(bounds orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	minTile := maptile.At(bounds.Min, zoom)
	maxTile := maptile.At(bounds.Max, zoom)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// ExpandTileURL fills a tile template's {z}/{x}/{y} placeholders and, for
// raster export templates, {bbox-epsg-3857}.
func ExpandTileURL(template string, t maptile.Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.Itoa(int(t.X)),
		"{y}", strconv.Itoa(int(t.Y)),
		"{bbox-epsg-3857}", mercatorBBox(t),
	)
	return r.Replace(template)
}

func mercatorBBox(t maptile.Tile) string {
	b := t.Bound()
	min := toMercator(b.Min)
	max := toMercator(b.Max)
	parts := []float64{min[0], min[1], max[0], max[1]}
	s := make([]string, len(parts))
	for i, v := range parts {
		s[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(s, ",")
}
