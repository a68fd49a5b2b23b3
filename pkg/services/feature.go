package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

// DefaultDebounce coalesces bursts of view changes into one refresh.
const DefaultDebounce = 300 * time.Millisecond

// identifyTolerance is the search radius of Identify in pixels.
const identifyTolerance = 3

// FeatureServiceOptions configure a FeatureServer layer source.
type FeatureServiceOptions struct {
	URL                string        `json:"url" yaml:"url" doc:"FeatureServer layer URL"`
	Where              string        `json:"where,omitempty" yaml:"where,omitempty" doc:"Where clause (default 1=1)"`
	OutFields          []string      `json:"outFields,omitempty" yaml:"outFields,omitempty" doc:"Fields to fetch (default *)"`
	DisableVectorTiles bool          `json:"disableVectorTiles,omitempty" yaml:"disableVectorTiles,omitempty" doc:"Skip the VectorTileServer probe"`
	UseBoundingBox     bool          `json:"useBoundingBox,omitempty" yaml:"useBoundingBox,omitempty" doc:"Limit queries to the map view"`
	Debounce           time.Duration `json:"debounce,omitempty" yaml:"debounce,omitempty" doc:"Delay before a view change refreshes the data"`
	Precision          int           `json:"precision,omitempty" yaml:"precision,omitempty" doc:"Geometry precision in decimals"`
	InlineData         bool          `json:"inlineData,omitempty" yaml:"inlineData,omitempty" doc:"Fetch GeoJSON and hand it to the source instead of a URL"`
	Token              string        `json:"token,omitempty" yaml:"token,omitempty" doc:"ArcGIS token"`
	NoAttribution      bool          `json:"noAttribution,omitempty" yaml:"noAttribution,omitempty" doc:"Skip copyright lookup"`
}

func (o FeatureServiceOptions) where() string {
	if strings.TrimSpace(o.Where) == "" {
		return "1=1"
	}
	return o.Where
}

func (o FeatureServiceOptions) outFields() string {
	if len(o.OutFields) == 0 {
		return "*"
	}
	return strings.Join(o.OutFields, ",")
}

func (o FeatureServiceOptions) debounce() time.Duration {
	if o.Debounce > 0 {
		return o.Debounce
	}
	return DefaultDebounce
}

// FeatureService draws a FeatureServer layer, as vector tiles when the
// service has a VectorTileServer sibling and as GeoJSON otherwise.
type FeatureService struct {
	*service
	opts FeatureServiceOptions

	mode      string
	vectorURL string
	data      any
	bboxOn    bool

	gen            uint64
	cancelInflight context.CancelFunc
	timer          *time.Timer
}

// NewFeatureService validates opts and creates the source in the
// background; Ready reports the outcome.
func NewFeatureService(sourceID string, m maplibre.Map, opts FeatureServiceOptions, options ...Option) (*FeatureService, error) {
	opts.URL = esri.CleanURL(opts.URL)
	if opts.URL == "" {
		return nil, esri.ErrMissingURL
	}
	base, err := newService(sourceID, m, options)
	if err != nil {
		return nil, err
	}
	opts.OutFields = append([]string(nil), opts.OutFields...)
	s := &FeatureService{service: base, opts: opts}
	base.build = s.source
	base.onRemove = append(base.onRemove, s.stop)

	go s.init()
	return s, nil
}

func (s *FeatureService) init() {
	err := s.create(s.ctx)
	if err != nil {
		s.log().Error("feature service source creation failed", zap.String("source", s.id), zap.Error(err))
	}
	s.markReady(err)
}

func (s *FeatureService) create(ctx context.Context) error {
	o := s.Options()
	mode := maplibre.SourceGeoJSON
	if !o.DisableVectorTiles {
		if vts, ok := esri.SiblingURL(o.URL, "FeatureServer", "VectorTileServer"); ok {
			if s.client.Probe(ctx, vts, tokenValues(o.Token)) {
				mode = maplibre.SourceVector
				s.mu.Lock()
				s.vectorURL = vts
				s.mu.Unlock()
			}
		}
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return ErrRemoved
	}
	s.mode = mode
	s.mu.Unlock()

	if mode == maplibre.SourceGeoJSON && o.UseBoundingBox {
		if err := s.enableBoundingBox(); err != nil {
			return err
		}
	}
	var err error
	if mode == maplibre.SourceGeoJSON && o.InlineData {
		err = s.refreshInline()
	} else {
		err = s.Update()
	}
	if err != nil {
		return err
	}
	if !o.NoAttribution {
		s.setAttribution(ctx, o.URL, o.Token)
	}
	return nil
}

func tokenValues(token string) url.Values {
	v := url.Values{"f": {"json"}}
	if token != "" {
		v.Set("token", token)
	}
	return v
}

// Options returns a copy of the current options.
func (s *FeatureService) Options() FeatureServiceOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.opts
	o.OutFields = append([]string(nil), s.opts.OutFields...)
	return o
}

// Mode returns the source type in use: "vector", "geojson", or "" before
// the source exists.
func (s *FeatureService) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *FeatureService) source() (*maplibre.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case maplibre.SourceVector:
		tmpl := esri.AppendToken(s.vectorURL+"/tile/{z}/{y}/{x}.pbf", s.opts.Token)
		return s.srcOpts.apply(&maplibre.Source{Type: maplibre.SourceVector, Tiles: []string{tmpl}}), nil
	case maplibre.SourceGeoJSON:
		if s.opts.InlineData {
			data := s.data
			if data == nil {
				data = esri.NewFeatureCollection()
			}
			return s.srcOpts.apply(&maplibre.Source{Type: maplibre.SourceGeoJSON, Data: data}), nil
		}
		var bbox *orb.Bound
		if s.bboxOn {
			b := s.m.GetBounds()
			bbox = &b
		}
		u, err := queryURL(s.opts, bbox)
		if err != nil {
			return nil, err
		}
		return s.srcOpts.apply(&maplibre.Source{Type: maplibre.SourceGeoJSON, Data: u}), nil
	}
	return nil, fmt.Errorf("services: feature source %q is not ready", s.id)
}

// QueryURL returns the GeoJSON /query URL for the current options.
func (s *FeatureService) QueryURL() (string, error) {
	o := s.Options()
	var bbox *orb.Bound
	if s.boundingBoxOn() {
		b := s.m.GetBounds()
		bbox = &b
	}
	return queryURL(o, bbox)
}

func queryURL(o FeatureServiceOptions, bbox *orb.Bound) (string, error) {
	v := url.Values{}
	v.Set("where", o.where())
	v.Set("outFields", o.outFields())
	v.Set("f", "geojson")
	v.Set("outSR", "4326")
	if o.Precision > 0 {
		v.Set("geometryPrecision", fmt.Sprint(o.Precision))
	}
	if bbox != nil {
		b, err := json.Marshal(esri.NewEnvelope(*bbox))
		if err != nil {
			return "", err
		}
		v.Set("geometry", string(b))
		v.Set("geometryType", esri.GeometryEnvelope)
		v.Set("spatialRel", tasks.RelIntersects)
		v.Set("inSR", "4326")
	}
	if o.Token != "" {
		v.Set("token", o.Token)
	}
	return o.URL + "/query?" + v.Encode(), nil
}

func (s *FeatureService) boundingBoxOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bboxOn
}

func (s *FeatureService) enableBoundingBox() error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return ErrRemoved
	}
	if s.bboxOn {
		s.mu.Unlock()
		return nil
	}
	s.bboxOn = true
	s.mu.Unlock()
	if !s.on(maplibre.EventMoveEnd, s.schedule) || !s.on(maplibre.EventZoomEnd, s.schedule) {
		return ErrRemoved
	}
	return nil
}

func (s *FeatureService) disableBoundingBox() {
	s.mu.Lock()
	if !s.bboxOn {
		s.mu.Unlock()
		return
	}
	s.bboxOn = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.offAll()
}

// schedule restarts the debounce timer.
func (s *FeatureService) schedule(maplibre.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.debounce(), s.refresh)
}

func (s *FeatureService) refresh() {
	var err error
	if s.Options().InlineData {
		err = s.refreshInline()
	} else {
		err = s.Update()
	}
	if err != nil && s.ctx.Err() == nil {
		s.log().Warn("feature refresh failed", zap.String("source", s.id), zap.Error(err))
	}
}

// refreshInline fetches GeoJSON and hands it to the source. A newer
// refresh cancels older ones, and responses that lost the race are dropped.
func (s *FeatureService) refreshInline() error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancelInflight != nil {
		s.cancelInflight()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelInflight = cancel
	s.mu.Unlock()
	defer cancel()

	q, err := s.newQuery()
	if err != nil {
		return err
	}
	q.Where(s.Options().where())
	if s.boundingBoxOn() {
		q.Intersects(s.m.GetBounds())
	}
	fc, err := q.RunGeoJSON(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.data = fc
	s.mu.Unlock()
	return s.Update()
}

func (s *FeatureService) newQuery() (*tasks.Query, error) {
	o := s.Options()
	opts := []tasks.Option{tasks.WithClient(s.client)}
	if o.Token != "" {
		opts = append(opts, tasks.WithToken(o.Token))
	}
	q, err := tasks.NewQuery(o.URL, opts...)
	if err != nil {
		return nil, err
	}
	if len(o.OutFields) > 0 {
		q.OutFields(o.OutFields...)
	}
	if o.Precision > 0 {
		q.Precision(o.Precision)
	}
	return q, nil
}

func (s *FeatureService) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelInflight != nil {
		s.cancelInflight()
		s.cancelInflight = nil
	}
}

func (s *FeatureService) mutate(fn func(o *FeatureServiceOptions)) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return ErrRemoved
	}
	fn(&s.opts)
	ready := s.mode != ""
	inline := s.opts.InlineData && s.mode == maplibre.SourceGeoJSON
	s.mu.Unlock()
	if !ready {
		return nil
	}
	if inline {
		return s.refreshInline()
	}
	return s.Update()
}

func (s *FeatureService) SetWhere(where string) error {
	return s.mutate(func(o *FeatureServiceOptions) { o.Where = where })
}

func (s *FeatureService) SetOutFields(fields ...string) error {
	return s.mutate(func(o *FeatureServiceOptions) { o.OutFields = append([]string(nil), fields...) })
}

// SetBoundingBox turns view-constrained queries on or off.
func (s *FeatureService) SetBoundingBox(on bool) error {
	if s.Mode() == maplibre.SourceVector {
		return nil
	}
	if on {
		if err := s.enableBoundingBox(); err != nil {
			return err
		}
	} else {
		s.disableBoundingBox()
	}
	return s.mutate(func(o *FeatureServiceOptions) { o.UseBoundingBox = on })
}

func (s *FeatureService) GetMetadata(ctx context.Context) (*esri.ServiceMetadata, error) {
	o := s.Options()
	return s.getMetadata(ctx, o.URL, o.Token)
}

// QueryFeatures queries the layer; an empty where falls back to the
// service's own where clause.
func (s *FeatureService) QueryFeatures(ctx context.Context, opts QueryOptions) (*esri.FeatureCollection, error) {
	q, err := s.newQuery()
	if err != nil {
		return nil, err
	}
	if opts.Where == "" {
		opts.Where = s.Options().where()
	}
	opts.applyTo(q)
	return q.Run(ctx)
}

// Identify returns the features within a few pixels of point.
func (s *FeatureService) Identify(ctx context.Context, point any, returnGeometry bool) (*esri.FeatureCollection, error) {
	g, typ, err := esri.NormalizeGeometry(point)
	if err != nil {
		return nil, err
	}
	if typ != esri.GeometryPoint {
		return nil, fmt.Errorf("services: identify needs a point, got %s", typ)
	}
	b := s.m.GetBounds()
	w, _ := s.m.CanvasSize()
	tol := 0.0
	if w > 0 {
		tol = (b.Max[0] - b.Min[0]) / float64(w) * identifyTolerance
	}
	env := orb.Bound{
		Min: orb.Point{*g.X - tol, *g.Y - tol},
		Max: orb.Point{*g.X + tol, *g.Y + tol},
	}
	return s.QueryFeatures(ctx, QueryOptions{Geometry: env, ReturnGeometry: &returnGeometry})
}

// GetStyle returns the layers that draw this source: the VectorTileServer
// default style in vector mode, otherwise one layer styled by geometry type.
func (s *FeatureService) GetStyle(ctx context.Context) ([]*maplibre.Layer, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	o := s.Options()
	if s.Mode() == maplibre.SourceVector {
		s.mu.Lock()
		vts := s.vectorURL
		s.mu.Unlock()
		md, err := esri.GetServiceDetails(ctx, s.client, vts, o.Token)
		if err != nil {
			return nil, err
		}
		return vectorStyle(ctx, s.client, vts, md.DefaultStyles, o.Token, s.id)
	}
	md, err := s.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return []*maplibre.Layer{DefaultStyle(s.id+"-layer", s.id, md.GeometryType)}, nil
}

// AddDefaultLayer adds the layers from GetStyle below beforeID. They are
// removed together with the source.
func (s *FeatureService) AddDefaultLayer(ctx context.Context, beforeID string) error {
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
