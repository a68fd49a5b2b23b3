// Package services turns ArcGIS REST services into map sources. Each
// service owns one source on a maplibre.Map, rebuilds it whenever its
// options change and removes it, together with any listeners it
// registered, on Remove.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

var (
	// ErrMissingSourceID is returned when a service is built without a source id.
	ErrMissingSourceID = errors.New("services: source id is required")
	// ErrMissingMap is returned when a service is built without a map.
	ErrMissingMap = errors.New("services: map is required")
	// ErrRemoved is returned by operations on a removed service.
	ErrRemoved = errors.New("services: service removed")
)

// DefaultTileSize is the raster tile size used when none is configured.
const DefaultTileSize = 256

// SourceOptions are renderer-specific source settings.
type SourceOptions struct {
	TileSize    int       `json:"tileSize,omitempty" yaml:"tileSize,omitempty" doc:"Raster tile size in pixels (default 256)"`
	MinZoom     *float64  `json:"minzoom,omitempty" yaml:"minzoom,omitempty" doc:"Minimum zoom"`
	MaxZoom     *float64  `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty" doc:"Maximum zoom"`
	Attribution string    `json:"attribution,omitempty" yaml:"attribution,omitempty" doc:"Fixed attribution text"`
	Bounds      []float64 `json:"bounds,omitempty" yaml:"bounds,omitempty" doc:"Source bounds [w,s,e,n]"`
}

func (o SourceOptions) tileSize() int {
	if o.TileSize > 0 {
		return o.TileSize
	}
	return DefaultTileSize
}

func (o SourceOptions) apply(src *maplibre.Source) *maplibre.Source {
	src.MinZoom = o.MinZoom
	src.MaxZoom = o.MaxZoom
	src.Bounds = o.Bounds
	if o.Attribution != "" {
		src.Attribution = o.Attribution
	}
	return src
}

// Option configures a service.
type Option func(*service)

// WithSourceOptions sets renderer-specific source options.
func WithSourceOptions(o SourceOptions) Option {
	return func(s *service) { s.srcOpts = o }
}

// WithClient sets the ArcGIS client.
func WithClient(c *esri.Client) Option {
	return func(s *service) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *service) { s.logger = l }
}

type listener struct {
	event string
	id    maplibre.ListenerID
}

// service is the state shared by every service type: the source id, the
// map, the cached metadata and the listeners to detach on Remove.
type service struct {
	id      string
	m       maplibre.Map
	client  *esri.Client
	logger  *zap.Logger
	srcOpts SourceOptions

	// build returns the current source specification.
	build func() (*maplibre.Source, error)
	// layers are style layers added on behalf of the service.
	layers []string

	ctx    context.Context
	cancel context.CancelFunc

	// updateMu serializes Update against Remove.
	updateMu sync.Mutex

	mu        sync.Mutex
	listeners []listener
	onRemove  []func()
	removed   bool

	mdMu sync.Mutex
	md   *esri.ServiceMetadata

	ready    chan struct{}
	readyErr error
}

func newService(id string, m maplibre.Map, opts []Option) (*service, error) {
	if id == "" {
		return nil, ErrMissingSourceID
	}
	if m == nil {
		return nil, ErrMissingMap
	}
	s := &service{
		id:     id,
		m:      m,
		client: esri.DefaultClient,
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = esri.DefaultClient
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *service) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return log.L()
}

// SourceID returns the id of the source the service owns.
func (s *service) SourceID() string { return s.id }

// Map returns the map the service draws on.
func (s *service) Map() maplibre.Map { return s.m }

// markReady records the outcome of source creation.
func (s *service) markReady(err error) {
	s.readyErr = err
	close(s.ready)
}

// Ready waits for asynchronous source creation and returns its error.
func (s *service) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update rebuilds the source specification and pushes it to the map.
// It runs under updateMu, so a concurrent Remove either waits for the
// source to land and takes it down, or makes Update return ErrRemoved.
func (s *service) Update() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.isRemoved() {
		return ErrRemoved
	}
	spec, err := s.build()
	if err != nil {
		return err
	}
	return s.applySource(spec)
}

// applySource adds the source or refreshes it through the first update
// path the map supports: in-place setters, legacy source caches, other
// source caches, and finally remove and re-add.
func (s *service) applySource(spec *maplibre.Source) error {
	h, ok := s.m.GetSource(s.id)
	if !ok {
		return s.m.AddSource(s.id, spec)
	}

	switch spec.Type {
	case maplibre.SourceGeoJSON:
		if ds, ok := h.(maplibre.DataSetter); ok {
			ds.SetData(spec.Data)
			return nil
		}
	default:
		if ts, ok := h.(maplibre.TileSetter); ok {
			ts.SetTiles(spec.Tiles)
			return nil
		}
	}

	if p, ok := s.m.(maplibre.SourceCacheProvider); ok {
		if cache, ok := p.SourceCache(s.id); ok {
			patchSpec(h.Spec(), spec)
			cache.ClearTiles()
			cache.Update(p.Transform())
			return nil
		}
	}
	if p, ok := s.m.(maplibre.OtherSourceCacheProvider); ok {
		if cache, ok := p.OtherSourceCache(s.id); ok {
			patchSpec(h.Spec(), spec)
			cache.ClearTiles()
			cache.Update(p.Transform())
			return nil
		}
	}

	return s.readd(spec)
}

func patchSpec(live, spec *maplibre.Source) {
	if live == nil {
		return
	}
	live.Tiles = spec.Tiles
	live.Data = spec.Data
}

// readd removes and re-adds the source, restoring the layers that used it.
func (s *service) readd(spec *maplibre.Source) error {
	var dependents []*maplibre.Layer
	var above []string
	if style := s.m.GetStyle(); style != nil {
		for i, l := range style.Layers {
			if l.Source != s.id {
				continue
			}
			dependents = append(dependents, l)
			before := ""
			for _, next := range style.Layers[i+1:] {
				if next.Source != s.id {
					before = next.ID
					break
				}
			}
			above = append(above, before)
		}
	}
	for _, l := range dependents {
		if err := s.m.RemoveLayer(l.ID); err != nil {
			return err
		}
	}
	if err := s.m.RemoveSource(s.id); err != nil {
		return err
	}
	if err := s.m.AddSource(s.id, spec); err != nil {
		return err
	}
	for i, l := range dependents {
		if err := s.m.AddLayer(l, above[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) isRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

// on registers a map listener that Remove detaches. Once the service is
// removed it registers nothing and returns false.
func (s *service) on(event string, fn func(maplibre.Event)) bool {
	if s.isRemoved() {
		return false
	}
	id := s.m.On(event, fn)
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		s.m.Off(event, id)
		return false
	}
	s.listeners = append(s.listeners, listener{event: event, id: id})
	s.mu.Unlock()
	return true
}

// offAll detaches every listener registered through on.
func (s *service) offAll() {
	s.mu.Lock()
	ls := s.listeners
	s.listeners = nil
	s.mu.Unlock()
	for _, l := range ls {
		s.m.Off(l.event, l.id)
	}
}

// addLayer adds a style layer that Remove takes down with the source.
func (s *service) addLayer(l *maplibre.Layer, beforeID string) error {
	if s.isRemoved() {
		return ErrRemoved
	}
	if err := s.m.AddLayer(l, beforeID); err != nil {
		return err
	}
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		if err := s.m.RemoveLayer(l.ID); err != nil {
			s.log().Warn("remove layer failed", zap.String("layer", l.ID), zap.Error(err))
		}
		return ErrRemoved
	}
	s.layers = append(s.layers, l.ID)
	s.mu.Unlock()
	return nil
}

// Remove detaches listeners, stops pending work, removes the service's
// layers and removes the source exactly once.
func (s *service) Remove() error {
	// Cancel first so an Update blocked on the network gives up, then wait
	// for it under updateMu.
	s.cancel()
	s.updateMu.Lock()
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		s.updateMu.Unlock()
		return nil
	}
	s.removed = true
	hooks := s.onRemove
	layers := s.layers
	s.onRemove, s.layers = nil, nil
	s.mu.Unlock()
	s.updateMu.Unlock()

	s.offAll()
	for _, fn := range hooks {
		fn()
	}
	for _, id := range layers {
		if _, ok := s.m.GetLayer(id); ok {
			if err := s.m.RemoveLayer(id); err != nil {
				s.log().Warn("remove layer failed", zap.String("layer", id), zap.Error(err))
			}
		}
	}
	if _, ok := s.m.GetSource(s.id); !ok {
		return nil
	}
	return s.m.RemoveSource(s.id)
}

// GetMetadata fetches the service's ?f=json document once and caches it.
// Failures are not cached.
func (s *service) getMetadata(ctx context.Context, serviceURL, token string) (*esri.ServiceMetadata, error) {
	s.mdMu.Lock()
	defer s.mdMu.Unlock()
	if s.md != nil {
		return s.md, nil
	}
	md, err := esri.GetServiceDetails(ctx, s.client, serviceURL, token)
	if err != nil {
		return nil, err
	}
	s.md = md
	return md, nil
}

// setAttribution copies the service copyright onto the map.
func (s *service) setAttribution(ctx context.Context, serviceURL, token string) {
	as, ok := s.m.(maplibre.AttributionSetter)
	if !ok || s.srcOpts.Attribution != "" {
		return
	}
	md, err := s.getMetadata(ctx, serviceURL, token)
	if err != nil {
		s.log().Warn("attribution lookup failed", zap.String("source", s.id), zap.Error(err))
		return
	}
	if text := md.Attribution(); text != "" {
		as.SetAttribution(s.id, text)
	}
}

// prefixed wraps err with an operation prefix such as "Export failed: ".
func prefixed(prefix string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
