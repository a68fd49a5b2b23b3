package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// DynamicMapOptions configure a MapServer export source.
type DynamicMapOptions struct {
	URL           string         `json:"url" yaml:"url" doc:"MapServer URL"`
	Layers        []int          `json:"layers,omitempty" yaml:"layers,omitempty" doc:"Sublayers to show; empty uses the service default"`
	LayerDefs     map[int]string `json:"layerDefs,omitempty" yaml:"layerDefs,omitempty" doc:"Definition expressions by layer id"`
	DynamicLayers []DynamicLayer `json:"dynamicLayers,omitempty" yaml:"dynamicLayers,omitempty" doc:"Per-layer renderer, label and filter overrides"`
	Format        string         `json:"format,omitempty" yaml:"format,omitempty" doc:"Image format (default png24)"`
	DPI           int            `json:"dpi,omitempty" yaml:"dpi,omitempty" doc:"Output DPI"`
	Transparent   *bool          `json:"transparent,omitempty" yaml:"transparent,omitempty" doc:"Transparent background (default true)"`
	Time          *TimeRange     `json:"time,omitempty" yaml:"time,omitempty" doc:"Time extent"`
	Token         string         `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token"`
	NoAttribution bool           `json:"noAttribution,omitempty" yaml:"noAttribution,omitempty" doc:"Skip copyright lookup"`
}

func (o DynamicMapOptions) clone() DynamicMapOptions {
	c := o
	c.Layers = append([]int(nil), o.Layers...)
	if o.Layers == nil {
		c.Layers = nil
	}
	if o.LayerDefs != nil {
		c.LayerDefs = make(map[int]string, len(o.LayerDefs))
		for k, v := range o.LayerDefs {
			c.LayerDefs[k] = v
		}
	}
	c.DynamicLayers = cloneDynamicLayers(o.DynamicLayers)
	return c
}

// DynamicMapService renders a MapServer through /export as a raster source.
type DynamicMapService struct {
	*service

	opts     DynamicMapOptions
	inTx     bool
	pending  bool
	snapshot DynamicMapOptions
}

// NewDynamicMapService validates opts, registers the raster source on m and
// starts the attribution lookup.
func NewDynamicMapService(sourceID string, m maplibre.Map, opts DynamicMapOptions, options ...Option) (*DynamicMapService, error) {
	opts.URL = esri.CleanURL(opts.URL)
	if opts.URL == "" {
		return nil, esri.ErrMissingURL
	}
	base, err := newService(sourceID, m, options)
	if err != nil {
		return nil, err
	}
	s := &DynamicMapService{service: base, opts: opts.clone()}
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
func (s *DynamicMapService) Options() DynamicMapOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.clone()
}

// TileURL returns the export template registered on the map.
func (s *DynamicMapService) TileURL() (string, error) {
	s.mu.Lock()
	o := s.opts.clone()
	s.mu.Unlock()
	return exportTemplate(o, s.srcOpts.tileSize())
}

func (s *DynamicMapService) source() (*maplibre.Source, error) {
	tmpl, err := s.TileURL()
	if err != nil {
		return nil, err
	}
	return rasterSource(tmpl, s.srcOpts), nil
}

func exportTemplate(o DynamicMapOptions, tileSize int) (string, error) {
	q := rasterParams(tileSize)
	format := o.Format
	if format == "" {
		format = "png24"
	}
	q.add("format", format)
	q.add("transparent", boolParam(o.Transparent, true))
	if o.DPI > 0 {
		q.add("dpi", strconv.Itoa(o.DPI))
	}
	if len(o.Layers) > 0 {
		q.add("layers", "show:"+esri.JoinInts(o.Layers))
	}
	if len(o.LayerDefs) > 0 {
		defs := make(map[string]string, len(o.LayerDefs))
		for id, where := range o.LayerDefs {
			defs[strconv.Itoa(id)] = where
		}
		if err := q.json("layerDefs", defs); err != nil {
			return "", err
		}
	}
	if len(o.DynamicLayers) > 0 {
		if err := q.json("dynamicLayers", o.DynamicLayers); err != nil {
			return "", err
		}
	}
	if o.Time != nil {
		q.add("time", o.Time.param())
	}
	q.opt("token", o.Token)
	return o.URL + "/export?" + esri.JoinQuery(q), nil
}

// mutate applies fn to the options and rebuilds the source unless a
// transaction is open.
func (s *DynamicMapService) mutate(fn func(o *DynamicMapOptions) error) error {
	s.mu.Lock()
	if err := fn(&s.opts); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.inTx {
		s.pending = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Update()
}

// SetLayers selects the sublayers to draw; nil restores the service default.
func (s *DynamicMapService) SetLayers(ids []int) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.Layers = append([]int(nil), ids...)
		if ids == nil {
			o.Layers = nil
		}
		return nil
	})
}

// SetLayerDefs replaces all definition expressions.
func (s *DynamicMapService) SetLayerDefs(defs map[int]string) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.LayerDefs = make(map[int]string, len(defs))
		for k, v := range defs {
			o.LayerDefs[k] = v
		}
		return nil
	})
}

func (s *DynamicMapService) SetDate(from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("services: time range ends before it starts")
	}
	return s.mutate(func(o *DynamicMapOptions) error {
		o.Time = &TimeRange{From: from, To: to}
		return nil
	})
}

func (s *DynamicMapService) SetFormat(format string) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.Format = format
		return nil
	})
}

func (s *DynamicMapService) SetDPI(dpi int) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.DPI = dpi
		return nil
	})
}

func (s *DynamicMapService) SetTransparent(v bool) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.Transparent = &v
		return nil
	})
}

// SetDynamicLayers replaces the dynamic layer list.
func (s *DynamicMapService) SetDynamicLayers(layers []DynamicLayer) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.DynamicLayers = cloneDynamicLayers(layers)
		return nil
	})
}

// patchLayer finds or creates the entry for id and lets fn modify it.
func (s *DynamicMapService) patchLayer(id int, fn func(l *DynamicLayer) error) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		var err error
		o.DynamicLayers, err = patchDynamicLayer(o.DynamicLayers, id, fn)
		return err
	})
}

func (s *DynamicMapService) SetLayerRenderer(id int, renderer map[string]any) error {
	return s.patchLayer(id, func(l *DynamicLayer) error {
		l.drawingInfo().Renderer = renderer
		return nil
	})
}

func (s *DynamicMapService) SetLayerVisibility(id int, visible bool) error {
	return s.patchLayer(id, func(l *DynamicLayer) error {
		l.Visible = &visible
		return nil
	})
}

func (s *DynamicMapService) SetLayerDefinition(id int, where string) error {
	return s.patchLayer(id, func(l *DynamicLayer) error {
		l.DefinitionExpression = where
		return nil
	})
}

// SetLayerFilter renders f into the layer's definition expression.
func (s *DynamicMapService) SetLayerFilter(id int, f esri.Filter) error {
	if err := esri.ValidateFilter(f); err != nil {
		return err
	}
	return s.SetLayerDefinition(id, f.SQL())
}

// SetLayerLabels sets the labeling info and turns labels on.
func (s *DynamicMapService) SetLayerLabels(id int, labelingInfo []map[string]any) error {
	return s.patchLayer(id, func(l *DynamicLayer) error {
		di := l.drawingInfo()
		di.LabelingInfo = labelingInfo
		show := true
		di.ShowLabels = &show
		return nil
	})
}

func (s *DynamicMapService) SetLayerLabelsVisible(id int, visible bool) error {
	return s.patchLayer(id, func(l *DynamicLayer) error {
		l.drawingInfo().ShowLabels = &visible
		return nil
	})
}

// SetBulkLayerProperties applies several operations with a single rebuild.
func (s *DynamicMapService) SetBulkLayerProperties(ops []LayerOperation) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		layers := cloneDynamicLayers(o.DynamicLayers)
		for _, op := range ops {
			var err error
			layers, err = patchDynamicLayer(layers, op.LayerID, op.apply)
			if err != nil {
				return err
			}
		}
		o.DynamicLayers = layers
		return nil
	})
}

// ResetLayer drops all overrides for one layer.
func (s *DynamicMapService) ResetLayer(id int) error {
	return s.mutate(func(o *DynamicMapOptions) error {
		out := o.DynamicLayers[:0:0]
		for _, l := range o.DynamicLayers {
			if l.ID != id {
				out = append(out, l)
			}
		}
		o.DynamicLayers = out
		return nil
	})
}

func (s *DynamicMapService) ResetAllLayers() error {
	return s.mutate(func(o *DynamicMapOptions) error {
		o.DynamicLayers = nil
		return nil
	})
}

// BeginUpdate buffers dynamic layer changes until CommitUpdate.
func (s *DynamicMapService) BeginUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		return
	}
	s.inTx = true
	s.pending = false
	s.snapshot = s.opts.clone()
}

// CommitUpdate closes the transaction and rebuilds once if anything changed.
func (s *DynamicMapService) CommitUpdate() error {
	s.mu.Lock()
	if !s.inTx {
		s.mu.Unlock()
		return nil
	}
	pending := s.pending
	s.inTx, s.pending, s.snapshot = false, false, DynamicMapOptions{}
	s.mu.Unlock()
	if !pending {
		return nil
	}
	return s.Update()
}

// RollbackUpdate discards buffered changes and restores the options,
// dynamic layers included, from BeginUpdate.
func (s *DynamicMapService) RollbackUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return
	}
	s.opts = s.snapshot
	s.inTx, s.pending, s.snapshot = false, false, DynamicMapOptions{}
}

func (s *DynamicMapService) IsInTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx
}

// GetMetadata returns the cached MapServer metadata.
func (s *DynamicMapService) GetMetadata(ctx context.Context) (*esri.ServiceMetadata, error) {
	o := s.Options()
	return s.getMetadata(ctx, o.URL, o.Token)
}
