package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// VectorTileOptions configure a VectorTileServer source.
type VectorTileOptions struct {
	URL           string `json:"url" yaml:"url" doc:"VectorTileServer URL"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token"`
	NoAttribution bool   `json:"noAttribution,omitempty" yaml:"noAttribution,omitempty" doc:"Skip copyright lookup"`
}

// VectorTileService draws a VectorTileServer as a vector source. The tile
// template comes from the service metadata, so the source is created in
// the background.
type VectorTileService struct {
	*service
	opts    VectorTileOptions
	tiles   string
	minZoom *float64
	maxZoom *float64
}

func NewVectorTileService(sourceID string, m maplibre.Map, opts VectorTileOptions, options ...Option) (*VectorTileService, error) {
	opts.URL = esri.CleanURL(opts.URL)
	if opts.URL == "" {
		return nil, esri.ErrMissingURL
	}
	base, err := newService(sourceID, m, options)
	if err != nil {
		return nil, err
	}
	s := &VectorTileService{service: base, opts: opts}
	base.build = s.source

	go s.init()
	return s, nil
}

func (s *VectorTileService) init() {
	err := s.create(s.ctx)
	if err != nil {
		s.log().Error("vector tile source creation failed", zap.String("source", s.id), zap.Error(err))
	}
	s.markReady(err)
}

func (s *VectorTileService) create(ctx context.Context) error {
	md, err := s.GetMetadata(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tiles = tileTemplate(s.opts.URL, md.Tiles)
	s.minZoom, s.maxZoom = md.MinZoom, md.MaxZoom
	s.mu.Unlock()

	if err := s.Update(); err != nil {
		return err
	}
	if !s.opts.NoAttribution {
		s.setAttribution(ctx, s.opts.URL, s.opts.Token)
	}
	return nil
}

// tileTemplate resolves the first metadata tile entry against the service URL.
func tileTemplate(serviceURL string, tiles []string) string {
	if len(tiles) == 0 || tiles[0] == "" {
		return serviceURL + "/tile/{z}/{y}/{x}.pbf"
	}
	t := tiles[0]
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return serviceURL + "/" + strings.TrimLeft(t, "/")
}

func (s *VectorTileService) source() (*maplibre.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl := esri.AppendToken(s.tiles, s.opts.Token)
	src := &maplibre.Source{Type: maplibre.SourceVector, Tiles: []string{tmpl}}
	s.srcOpts.apply(src)
	if src.MinZoom == nil {
		src.MinZoom = s.minZoom
	}
	if src.MaxZoom == nil {
		src.MaxZoom = s.maxZoom
	}
	return src, nil
}

// TileURL returns the resolved tile template, empty until Ready.
func (s *VectorTileService) TileURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles
}

func (s *VectorTileService) GetMetadata(ctx context.Context) (*esri.ServiceMetadata, error) {
	return s.getMetadata(ctx, s.opts.URL, s.opts.Token)
}

// GetStyle loads the service's default style with layers pointed at this
// source.
func (s *VectorTileService) GetStyle(ctx context.Context) ([]*maplibre.Layer, error) {
	md, err := s.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return vectorStyle(ctx, s.client, s.opts.URL, md.DefaultStyles, s.opts.Token, s.id)
}

// AddDefaultLayer adds the default style's layers below beforeID.
func (s *VectorTileService) AddDefaultLayer(ctx context.Context, beforeID string) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	layers, err := s.GetStyle(ctx)
	if err != nil {
		return err
	}
	for _, l := range layers {
		if err := s.addLayer(l, beforeID); err != nil {
			return err
		}
	}
	return nil
}
