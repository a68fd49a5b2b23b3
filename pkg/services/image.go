package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

// ImageServiceOptions configure an ImageServer exportImage source.
type ImageServiceOptions struct {
	URL                string         `json:"url" yaml:"url" doc:"ImageServer URL"`
	Format             string         `json:"format,omitempty" yaml:"format,omitempty" doc:"Image format (default jpgpng)"`
	RenderingRule      map[string]any `json:"renderingRule,omitempty" yaml:"renderingRule,omitempty" doc:"Raster function"`
	MosaicRule         map[string]any `json:"mosaicRule,omitempty" yaml:"mosaicRule,omitempty" doc:"Mosaic rule"`
	BandIDs            []int          `json:"bandIds,omitempty" yaml:"bandIds,omitempty" doc:"Bands to render"`
	NoData             *float64       `json:"noData,omitempty" yaml:"noData,omitempty" doc:"NoData value"`
	Interpolation      string         `json:"interpolation,omitempty" yaml:"interpolation,omitempty" doc:"Resampling method"`
	CompressionQuality int            `json:"compressionQuality,omitempty" yaml:"compressionQuality,omitempty" doc:"JPEG quality"`
	Time               *TimeRange     `json:"time,omitempty" yaml:"time,omitempty" doc:"Time extent"`
	Transparent        *bool          `json:"transparent,omitempty" yaml:"transparent,omitempty" doc:"Transparent background (default true)"`
	Token              string         `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token"`
	NoAttribution      bool           `json:"noAttribution,omitempty" yaml:"noAttribution,omitempty" doc:"Skip copyright lookup"`
}

// ImageService renders an ImageServer through /exportImage.
type ImageService struct {
	*service
	opts ImageServiceOptions
}

func NewImageService(sourceID string, m maplibre.Map, opts ImageServiceOptions, options ...Option) (*ImageService, error) {
	opts.URL = esri.CleanURL(opts.URL)
	if opts.URL == "" {
		return nil, esri.ErrMissingURL
	}
	base, err := newService(sourceID, m, options)
	if err != nil {
		return nil, err
	}
	s := &ImageService{service: base, opts: opts}
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

// Options returns a copy of the current options.
func (s *ImageService) Options() ImageServiceOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.opts
	o.BandIDs = append([]int(nil), s.opts.BandIDs...)
	return o
}

// TileURL returns the exportImage template registered on the map.
func (s *ImageService) TileURL() (string, error) {
	o := s.Options()
	q := rasterParams(s.srcOpts.tileSize())
	format := o.Format
	if format == "" {
		format = "jpgpng"
	}
	q.add("format", format)
	q.add("transparent", boolParam(o.Transparent, true))
	if o.RenderingRule != nil {
		if err := q.json("renderingRule", o.RenderingRule); err != nil {
			return "", err
		}
	}
	if o.MosaicRule != nil {
		if err := q.json("mosaicRule", o.MosaicRule); err != nil {
			return "", err
		}
	}
	if len(o.BandIDs) > 0 {
		q.add("bandIds", esri.JoinInts(o.BandIDs))
	}
	if o.NoData != nil {
		q.add("noData", strconv.FormatFloat(*o.NoData, 'f', -1, 64))
	}
	q.opt("interpolation", o.Interpolation)
	if o.CompressionQuality > 0 {
		q.add("compressionQuality", strconv.Itoa(o.CompressionQuality))
	}
	if o.Time != nil {
		q.add("time", o.Time.param())
	}
	q.opt("token", o.Token)
	return o.URL + "/exportImage?" + esri.JoinQuery(q), nil
}

func (s *ImageService) source() (*maplibre.Source, error) {
	tmpl, err := s.TileURL()
	if err != nil {
		return nil, err
	}
	return rasterSource(tmpl, s.srcOpts), nil
}

func (s *ImageService) mutate(fn func(o *ImageServiceOptions)) error {
	s.mu.Lock()
	fn(&s.opts)
	s.mu.Unlock()
	return s.Update()
}

func (s *ImageService) SetRenderingRule(rule map[string]any) error {
	return s.mutate(func(o *ImageServiceOptions) { o.RenderingRule = rule })
}

func (s *ImageService) SetMosaicRule(rule map[string]any) error {
	return s.mutate(func(o *ImageServiceOptions) { o.MosaicRule = rule })
}

func (s *ImageService) SetDate(from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("services: time range ends before it starts")
	}
	return s.mutate(func(o *ImageServiceOptions) { o.Time = &TimeRange{From: from, To: to} })
}

func (s *ImageService) SetBandIDs(ids []int) error {
	return s.mutate(func(o *ImageServiceOptions) { o.BandIDs = append([]int(nil), ids...) })
}

func (s *ImageService) SetNoData(v *float64) error {
	return s.mutate(func(o *ImageServiceOptions) { o.NoData = v })
}

func (s *ImageService) SetInterpolation(method string) error {
	return s.mutate(func(o *ImageServiceOptions) { o.Interpolation = method })
}

func (s *ImageService) GetMetadata(ctx context.Context) (*esri.ServiceMetadata, error) {
	o := s.Options()
	return s.getMetadata(ctx, o.URL, o.Token)
}

// Identify reads pixel values at point with the current rendering and
// mosaic rules.
func (s *ImageService) Identify(ctx context.Context, point any) (*tasks.ImageIdentifyResult, error) {
	o := s.Options()
	opts := []tasks.Option{tasks.WithClient(s.client)}
	if o.Token != "" {
		opts = append(opts, tasks.WithToken(o.Token))
	}
	id, err := tasks.NewIdentifyImage(o.URL, opts...)
	if err != nil {
		return nil, err
	}
	id.At(point)
	if o.RenderingRule != nil {
		id.RenderingRule(o.RenderingRule)
	}
	if o.MosaicRule != nil {
		id.MosaicRule(o.MosaicRule)
	}
	return id.Run(ctx)
}
