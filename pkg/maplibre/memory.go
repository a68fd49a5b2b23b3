package maplibre

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const earthCircumference = 2 * math.Pi * 6378137

// worldTileSize is the GL renderers' world size in pixels at zoom 0.
const worldTileSize = 512

// MemoryMap is an in-memory Map. It keeps a style document, a view and
// listeners, and publishes every change to subscribers.
type MemoryMap struct {
	mu           sync.RWMutex
	style        *Style
	styleURL     string
	handles      map[string]*memorySource
	attributions map[string]string

	center orb.Point
	zoom   float64
	width  int
	height int

	nextID    ListenerID
	listeners map[string]map[ListenerID]func(Event)

	bus *changeBus
}

var (
	_ Map               = (*MemoryMap)(nil)
	_ AttributionSetter = (*MemoryMap)(nil)
	_ StyleSetter       = (*MemoryMap)(nil)
)

// NewMemoryMap creates a map viewing center at zoom on a width x height canvas.
func NewMemoryMap(center orb.Point, zoom float64, width, height int) *MemoryMap {
	return &MemoryMap{
		style:        NewStyle(),
		handles:      map[string]*memorySource{},
		attributions: map[string]string{},
		center:       center,
		zoom:         zoom,
		width:        width,
		height:       height,
		listeners:    map[string]map[ListenerID]func(Event){},
		bus:          newChangeBus(),
	}
}

type memorySource struct {
	m    *MemoryMap
	id   string
	spec *Source
}

// Spec returns a copy; changes go through SetTiles and SetData.
func (s *memorySource) Spec() *Source {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.spec.Clone()
}

func (s *memorySource) SetTiles(tiles []string) {
	s.m.mu.Lock()
	s.spec.Tiles = append([]string(nil), tiles...)
	s.m.mu.Unlock()
	s.m.bus.publish(Change{Kind: "source", Action: "updated", ID: s.id})
}

func (s *memorySource) SetData(data any) {
	s.m.mu.Lock()
	s.spec.Data = data
	s.m.mu.Unlock()
	s.m.bus.publish(Change{Kind: "source", Action: "updated", ID: s.id})
}

// AddSource registers a source. Ids must be unique.
func (m *MemoryMap) AddSource(id string, src *Source) error {
	if id == "" || src == nil {
		return fmt.Errorf("maplibre: source id and specification are required")
	}
	m.mu.Lock()
	if _, ok := m.style.Sources[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("maplibre: source %q already exists", id)
	}
	spec := src.Clone()
	if text, ok := m.attributions[id]; ok && spec.Attribution == "" {
		spec.Attribution = text
	}
	m.style.Sources[id] = spec
	m.handles[id] = &memorySource{m: m, id: id, spec: spec}
	m.mu.Unlock()

	m.bus.publish(Change{Kind: "source", Action: "added", ID: id})
	return nil
}

// RemoveSource removes a source. It fails while layers still use it.
func (m *MemoryMap) RemoveSource(id string) error {
	m.mu.Lock()
	if _, ok := m.style.Sources[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("maplibre: source %q not found", id)
	}
	for _, l := range m.style.Layers {
		if l.Source == id {
			m.mu.Unlock()
			return fmt.Errorf("maplibre: source %q is used by layer %q", id, l.ID)
		}
	}
	delete(m.style.Sources, id)
	delete(m.handles, id)
	m.mu.Unlock()

	m.bus.publish(Change{Kind: "source", Action: "removed", ID: id})
	return nil
}

func (m *MemoryMap) GetSource(id string) (SourceHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	if !ok {
		return nil, false
	}
	return h, true
}

// AddLayer inserts a layer before beforeID, or on top when beforeID is empty
// or unknown.
func (m *MemoryMap) AddLayer(layer *Layer, beforeID string) error {
	if layer == nil || layer.ID == "" {
		return fmt.Errorf("maplibre: layer id is required")
	}
	m.mu.Lock()
	for _, l := range m.style.Layers {
		if l.ID == layer.ID {
			m.mu.Unlock()
			return fmt.Errorf("maplibre: layer %q already exists", layer.ID)
		}
	}
	if layer.Source != "" {
		if _, ok := m.style.Sources[layer.Source]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("maplibre: layer %q references unknown source %q", layer.ID, layer.Source)
		}
	}
	lc := *layer
	idx := len(m.style.Layers)
	for i, l := range m.style.Layers {
		if beforeID != "" && l.ID == beforeID {
			idx = i
			break
		}
	}
	m.style.Layers = append(m.style.Layers, nil)
	copy(m.style.Layers[idx+1:], m.style.Layers[idx:])
	m.style.Layers[idx] = &lc
	m.mu.Unlock()

	m.bus.publish(Change{Kind: "layer", Action: "added", ID: layer.ID})
	return nil
}

func (m *MemoryMap) RemoveLayer(id string) error {
	m.mu.Lock()
	for i, l := range m.style.Layers {
		if l.ID == id {
			m.style.Layers = append(m.style.Layers[:i], m.style.Layers[i+1:]...)
			m.mu.Unlock()
			m.bus.publish(Change{Kind: "layer", Action: "removed", ID: id})
			return nil
		}
	}
	m.mu.Unlock()
	return fmt.Errorf("maplibre: layer %q not found", id)
}

func (m *MemoryMap) GetLayer(id string) (*Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.style.Layers {
		if l.ID == id {
			lc := *l
			return &lc, true
		}
	}
	return nil, false
}

// On registers fn for event and returns an id for Off.
func (m *MemoryMap) On(event string, fn func(Event)) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.listeners[event] == nil {
		m.listeners[event] = map[ListenerID]func(Event){}
	}
	m.listeners[event][m.nextID] = fn
	return m.nextID
}

func (m *MemoryMap) Off(event string, id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners[event], id)
	if len(m.listeners[event]) == 0 {
		delete(m.listeners, event)
	}
}

// ListenerCount returns the number of listeners registered for event.
func (m *MemoryMap) ListenerCount(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[event])
}

// Fire delivers e to the listeners of e.Type in registration order.
func (m *MemoryMap) Fire(e Event) {
	m.mu.RLock()
	ids := make([]ListenerID, 0, len(m.listeners[e.Type]))
	for id := range m.listeners[e.Type] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = m.listeners[e.Type][id]
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// JumpTo changes the view and emits moveend and zoomend.
func (m *MemoryMap) JumpTo(center orb.Point, zoom float64) {
	m.mu.Lock()
	m.center = center
	m.zoom = zoom
	m.mu.Unlock()

	m.bus.publish(Change{Kind: "view", Action: "updated"})
	m.Fire(Event{Type: EventMoveEnd})
	m.Fire(Event{Type: EventZoomEnd})
}

// Click emits a click event at p.
func (m *MemoryMap) Click(p orb.Point) {
	m.Fire(Event{Type: EventClick, LngLat: &p})
}

// Resize changes the canvas size.
func (m *MemoryMap) Resize(width, height int) {
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
	m.bus.publish(Change{Kind: "view", Action: "updated"})
}

// View returns the current center and zoom.
func (m *MemoryMap) View() (orb.Point, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center, m.zoom
}

// GetBounds returns the visible longitude/latitude bounds.
func (m *MemoryMap) GetBounds() orb.Bound {
	m.mu.RLock()
	center, zoom, w, h := m.center, m.zoom, m.width, m.height
	m.mu.RUnlock()

	res := earthCircumference / (worldTileSize * math.Pow(2, zoom))
	c := toMercator(center)
	halfW, halfH := float64(w)/2*res, float64(h)/2*res
	sw := project.Mercator.ToWGS84(orb.Point{c[0] - halfW, c[1] - halfH})
	ne := project.Mercator.ToWGS84(orb.Point{c[0] + halfW, c[1] + halfH})
	return orb.Bound{Min: sw, Max: ne}
}

func (m *MemoryMap) CanvasSize() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

// GetStyle returns a snapshot of the style document.
func (m *MemoryMap) GetStyle() *Style {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.style.Clone()
	zoom := m.zoom
	s.Center = []float64{m.center[0], m.center[1]}
	s.Zoom = &zoom
	return s
}

// StyleURL returns the URL last passed to SetStyle, if any.
func (m *MemoryMap) StyleURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.styleURL
}

// SetStyle replaces the style document. A string is recorded as the style
// URL and resets the document; a *Style is copied in.
func (m *MemoryMap) SetStyle(style any) error {
	m.mu.Lock()
	switch s := style.(type) {
	case string:
		m.styleURL = s
		m.style = NewStyle()
	case *Style:
		if s == nil {
			m.mu.Unlock()
			return fmt.Errorf("maplibre: nil style")
		}
		m.styleURL = ""
		m.style = s.Clone()
		if m.style.Sources == nil {
			m.style.Sources = map[string]*Source{}
		}
	default:
		m.mu.Unlock()
		return fmt.Errorf("maplibre: unsupported style %T", style)
	}
	m.handles = map[string]*memorySource{}
	for id, spec := range m.style.Sources {
		m.handles[id] = &memorySource{m: m, id: id, spec: spec}
	}
	m.mu.Unlock()

	m.bus.publish(Change{Kind: "style", Action: "updated"})
	return nil
}

// SetAttribution records attribution text for a source.
func (m *MemoryMap) SetAttribution(sourceID, text string) {
	m.mu.Lock()
	m.attributions[sourceID] = text
	if src, ok := m.style.Sources[sourceID]; ok {
		src.Attribution = text
	}
	m.mu.Unlock()
	m.bus.publish(Change{Kind: "source", Action: "updated", ID: sourceID})
}

// Attributions returns the attribution text per source.
func (m *MemoryMap) Attributions() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.attributions))
	for k, v := range m.attributions {
		out[k] = v
	}
	return out
}

// Subscribe returns a channel receiving map changes.
func (m *MemoryMap) Subscribe() chan Change { return m.bus.subscribe() }

// Unsubscribe stops delivery and closes ch.
func (m *MemoryMap) Unsubscribe(ch chan Change) { m.bus.unsubscribe(ch) }

func toMercator(p orb.Point) orb.Point {
	return project.WGS84.ToMercator(p)
}
