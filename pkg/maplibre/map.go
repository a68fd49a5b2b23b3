package maplibre

import (
	"github.com/paulmach/orb"
)

// Map event names the adapters listen to.
const (
	EventMoveEnd = "moveend"
	EventZoomEnd = "zoomend"
	EventClick   = "click"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Type   string
	LngLat *orb.Point
}

// ListenerID identifies a registered listener for Off.
type ListenerID uint64

// Map is the renderer surface consumed by services and tasks.
type Map interface {
	AddSource(id string, src *Source) error
	RemoveSource(id string) error
	GetSource(id string) (SourceHandle, bool)
	AddLayer(layer *Layer, beforeID string) error
	RemoveLayer(id string) error
	GetLayer(id string) (*Layer, bool)
	On(event string, fn func(Event)) ListenerID
	Off(event string, id ListenerID)
	GetBounds() orb.Bound
	CanvasSize() (width, height int)
	GetStyle() *Style
}

// SourceHandle is the live source object returned by GetSource. Spec returns
// the source's specification. Renderers without TileSetter or DataSetter
// must return the live object, since the source cache refresh paths patch
// it in place. Renderers with setters, MemoryMap included, may return a
// copy.
type SourceHandle interface {
	Spec() *Source
}

// TileSetter is implemented by sources of renderers that can swap tile
// templates in place.
type TileSetter interface {
	SetTiles(tiles []string)
}

// DataSetter is implemented by geojson sources that accept new data.
type DataSetter interface {
	SetData(data any)
}

// Transform is the view state handed to source caches.
type Transform struct {
	Center orb.Point
	Zoom   float64
	Width  int
	Height int
}

// SourceCache is the tile cache of one source in older renderers.
type SourceCache interface {
	ClearTiles()
	Update(t Transform)
}

// SourceCacheProvider exposes style.sourceCaches of older renderers.
type SourceCacheProvider interface {
	SourceCache(id string) (SourceCache, bool)
	Transform() Transform
}

// OtherSourceCacheProvider exposes style._otherSourceCaches of renderers
// that keep symbol caches separately.
type OtherSourceCacheProvider interface {
	OtherSourceCache(id string) (SourceCache, bool)
	Transform() Transform
}

// AttributionSetter is implemented by maps that show per-source attribution.
type AttributionSetter interface {
	SetAttribution(sourceID, text string)
}

// StyleSetter is implemented by maps that can load a whole style, either a
// URL string or a *Style.
type StyleSetter interface {
	SetStyle(style any) error
}
