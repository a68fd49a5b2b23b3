package services

import (
	"context"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

// TiledMapOptions configure a cached MapServer.
type TiledMapOptions struct {
	URL           string `json:"url" yaml:"url" doc:"Cached MapServer URL"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token"`
	NoAttribution bool   `json:"noAttribution,omitempty" yaml:"noAttribution,omitempty" doc:"Skip copyright lookup"`
}

// TiledMapService serves a MapServer tile cache as a raster source.
type TiledMapService struct {
	*service
	opts TiledMapOptions
}

func NewTiledMapService(sourceID string, m maplibre.Map, opts TiledMapOptions, options ...Option) (*TiledMapService, error) {
	opts.URL = esri.CleanURL(opts.URL)
	if opts.URL == "" {
		return nil, esri.ErrMissingURL
	}
	base, err := newService(sourceID, m, options)
	if err != nil {
		return nil, err
	}
	s := &TiledMapService{service: base, opts: opts}
	base.build = s.source

	err = s.Update()
	base.markReady(err)
	if err != nil {
		return nil, err
	}
	if !opts.NoAttribution {
		go s.setAttribution(s.ctx, opts.URL, opts.Token)
	}
	return s, nil
}

// TileURL returns the tile template registered on the map.
func (s *TiledMapService) TileURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return esri.AppendToken(s.opts.URL+"/tile/{z}/{y}/{x}", s.opts.Token)
}

func (s *TiledMapService) source() (*maplibre.Source, error) {
	return rasterSource(s.TileURL(), s.srcOpts), nil
}

// Options returns a copy of the current options.
func (s *TiledMapService) Options() TiledMapOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetToken swaps the token and rebuilds the source.
func (s *TiledMapService) SetToken(token string) error {
	s.mu.Lock()
	s.opts.Token = token
	s.mu.Unlock()
	return s.Update()
}

func (s *TiledMapService) GetMetadata(ctx context.Context) (*esri.ServiceMetadata, error) {
	o := s.Options()
	return s.getMetadata(ctx, o.URL, o.Token)
}

// Identify runs a MapServer identify at point.
func (s *TiledMapService) Identify(ctx context.Context, point any, returnGeometry bool) (*esri.FeatureCollection, error) {
	o := s.Options()
	opts := []tasks.Option{tasks.WithClient(s.client)}
	if o.Token != "" {
		opts = append(opts, tasks.WithToken(o.Token))
	}
	id, err := tasks.NewIdentifyFeatures(o.URL, opts...)
	if err != nil {
		return nil, err
	}
	return id.On(s.m).At(point).ReturnGeometry(returnGeometry).Run(ctx)
}
