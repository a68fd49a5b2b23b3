// Package mapstate mounts catalog entries as live ArcGIS services on an
// in-memory map and keeps them in step with the catalog.
package mapstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/catalog"
	"github.com/joeblew999/plat-esri/internal/config"
	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
	"github.com/joeblew999/plat-esri/pkg/services"
)

// ErrNotMounted is returned for ids with no live service.
var ErrNotMounted = errors.New("service not mounted")

// Service is what every mounted ArcGIS service provides.
type Service interface {
	SourceID() string
	Remove() error
	Ready(ctx context.Context) error
}

// defaultLayerer is implemented by services that know how to style
// themselves (feature and vector tile services).
type defaultLayerer interface {
	AddDefaultLayer(ctx context.Context, beforeID string) error
}

// Option configures a State.
type Option func(*State)

func WithClient(c *esri.Client) Option {
	return func(s *State) { s.client = c }
}

// WithBasemap sets the Esri basemap composed beneath the services.
func WithBasemap(b *services.VectorBasemapStyle) Option {
	return func(s *State) { s.basemap = b }
}

// State owns the map and the services mounted on it.
type State struct {
	m       *maplibre.MemoryMap
	cat     *catalog.Catalog
	client  *esri.Client
	basemap *services.VectorBasemapStyle

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	mounted map[string]Service
}

// New creates the map for view. Nothing is mounted until Sync or Run.
func New(view config.View, cat *catalog.Catalog, opts ...Option) *State {
	s := &State{
		m:       maplibre.NewMemoryMap(orb.Point{view.Center[0], view.Center[1]}, view.Zoom, view.Width, view.Height),
		cat:     cat,
		client:  esri.DefaultClient,
		mounted: make(map[string]Service),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.basemap != nil {
		if err := s.basemap.Apply(s.m); err != nil {
			log.Warn("[mapstate] basemap not applied", zap.Error(err))
		}
	}
	return s
}

// Map returns the underlying map.
func (s *State) Map() *maplibre.MemoryMap { return s.m }

// Sync mounts every catalog entry that is not mounted yet.
func (s *State) Sync() error {
	var errs []error
	for _, e := range s.cat.List() {
		if _, ok := s.Service(e.ID); ok {
			continue
		}
		if err := s.Mount(e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Run follows catalog events until ctx is done.
func (s *State) Run(ctx context.Context) {
	ch := s.cat.Bus().Subscribe()
	defer s.cat.Bus().Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.apply(ev)
		}
	}
}

func (s *State) apply(ev catalog.Event) {
	var err error
	switch ev.Action {
	case "created", "updated":
		e, ok := s.cat.Get(ev.ID)
		if !ok {
			return
		}
		err = s.Mount(e)
	case "deleted":
		err = s.Unmount(ev.ID)
		if errors.Is(err, ErrNotMounted) {
			err = nil
		}
	}
	if err != nil {
		log.Error("[mapstate] catalog change not applied", zap.String("id", ev.ID), zap.String("action", ev.Action), zap.Error(err))
	}
}

// Service returns the live service for id.
func (s *State) Service(id string) (Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.mounted[id]
	return svc, ok
}

// Mounted returns the ids of the live services, sorted.
func (s *State) Mounted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.mounted))
	for id := range s.mounted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Mount creates the service for e, replacing a previous mount.
func (s *State) Mount(e catalog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.mounted[e.ID]; ok {
		if err := s.unmountLocked(e.ID, prev); err != nil {
			return err
		}
	}

	svc, err := s.create(e)
	if err != nil {
		return err
	}
	s.mounted[e.ID] = svc

	if e.Visible {
		if dl, ok := svc.(defaultLayerer); ok {
			go s.addDefaultLayer(e.ID, dl)
		} else if err := s.m.AddLayer(rasterLayer(e), ""); err != nil {
			return err
		}
	}
	log.Info("[mapstate] service mounted", zap.String("id", e.ID), zap.String("type", e.Type))
	return nil
}

func (s *State) addDefaultLayer(id string, dl defaultLayerer) {
	if err := dl.AddDefaultLayer(s.ctx, ""); err != nil && s.ctx.Err() == nil {
		log.Warn("[mapstate] default layer not added", zap.String("id", id), zap.Error(err))
	}
}

func rasterLayer(e catalog.Entry) *maplibre.Layer {
	opacity := e.Opacity
	if opacity == 0 {
		opacity = 1
	}
	return &maplibre.Layer{
		ID:     e.ID + "-layer",
		Type:   "raster",
		Source: e.ID,
		Paint:  map[string]any{"raster-opacity": opacity},
	}
}

func (s *State) create(e catalog.Entry) (Service, error) {
	opts := []services.Option{services.WithClient(s.client), services.WithLogger(log.L())}
	switch e.Type {
	case catalog.TypeDynamic:
		defs := make(map[int]string, len(e.LayerDefs))
		for k, where := range e.LayerDefs {
			id, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("layerDefs key %q is not a layer id", k)
			}
			defs[id] = where
		}
		return services.NewDynamicMapService(e.ID, s.m, services.DynamicMapOptions{
			URL:       e.URL,
			Layers:    e.Layers,
			LayerDefs: defs,
			Format:    e.Format,
			Token:     e.Token,
		}, opts...)
	case catalog.TypeTiled:
		return services.NewTiledMapService(e.ID, s.m, services.TiledMapOptions{URL: e.URL, Token: e.Token}, opts...)
	case catalog.TypeImage:
		return services.NewImageService(e.ID, s.m, services.ImageServiceOptions{
			URL:           e.URL,
			Format:        e.Format,
			RenderingRule: e.RenderingRule,
			BandIDs:       e.BandIDs,
			Token:         e.Token,
		}, opts...)
	case catalog.TypeFeature:
		return services.NewFeatureService(e.ID, s.m, services.FeatureServiceOptions{
			URL:                e.URL,
			Where:              e.Where,
			OutFields:          e.OutFields,
			DisableVectorTiles: !e.VectorTiles,
			UseBoundingBox:     e.UseBoundingBox,
			InlineData:         e.InlineData,
			Token:              e.Token,
		}, opts...)
	case catalog.TypeVectorTile:
		return services.NewVectorTileService(e.ID, s.m, services.VectorTileOptions{URL: e.URL, Token: e.Token}, opts...)
	}
	return nil, fmt.Errorf("unknown service type %q", e.Type)
}

// Unmount removes the service for id together with every layer drawing it.
func (s *State) Unmount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.mounted[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotMounted, id)
	}
	return s.unmountLocked(id, svc)
}

func (s *State) unmountLocked(id string, svc Service) error {
	for _, l := range s.m.GetStyle().Layers {
		if l.Source == id {
			if err := s.m.RemoveLayer(l.ID); err != nil {
				return err
			}
		}
	}
	delete(s.mounted, id)
	return svc.Remove()
}

// Close unmounts everything and stops background work.
func (s *State) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, svc := range s.mounted {
		if err := s.unmountLocked(id, svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetView moves the map, which refreshes view-bound feature services.
func (s *State) SetView(center orb.Point, zoom float64) {
	s.m.JumpTo(center, zoom)
}

// Style returns the current style document. With basemap set, the Esri
// basemap style is loaded and the services are drawn on top of it.
func (s *State) Style(ctx context.Context, basemap bool) (*maplibre.Style, error) {
	style := s.m.GetStyle()
	if !basemap || s.basemap == nil {
		return style, nil
	}
	base, err := s.basemap.LoadStyle(ctx)
	if err != nil {
		return nil, err
	}
	for id, src := range style.Sources {
		if _, clash := base.Sources[id]; clash {
			return nil, fmt.Errorf("source id %q is used by the basemap", id)
		}
		base.Sources[id] = src
	}
	base.Layers = append(base.Layers, style.Layers...)
	base.Center, base.Zoom = style.Center, style.Zoom
	return base, nil
}
