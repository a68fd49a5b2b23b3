// Package tasks builds ArcGIS REST query, find and identify requests through
// chained setters and converts their responses to GeoJSON.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// Option configures a task.
type Option func(*Task)

// WithClient sets the ArcGIS client used for requests.
func WithClient(c *esri.Client) Option {
	return func(t *Task) { t.client = c }
}

// WithHTTPClient wraps an *http.Client into a fresh ArcGIS client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Task) {
		t.client = &esri.Client{HTTPClient: hc, Timeout: hc.Timeout}
	}
}

// WithToken passes a token with every request.
func WithToken(token string) Option {
	return func(t *Task) { t.token = token }
}

// WithPOST sends parameters form-encoded in a POST body.
func WithPOST() Option {
	return func(t *Task) { t.post = true }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// Task holds the base URL, the parameter bag and the first setter error.
type Task struct {
	url    string
	path   string
	params map[string]any
	client *esri.Client
	token  string
	post   bool
	err    error
	logger *zap.Logger
}

func newTask(rawURL, path string, opts []Option) (*Task, error) {
	u := esri.CleanURL(rawURL)
	if u == "" {
		return nil, esri.ErrMissingURL
	}
	t := &Task{
		url:    u,
		path:   path,
		params: map[string]any{},
		client: esri.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = esri.DefaultClient
	}
	return t, nil
}

func (t *Task) set(key string, value any) {
	if value == nil {
		delete(t.params, key)
		return
	}
	t.params[key] = value
}

// fail records the first setter error; Run returns it.
func (t *Task) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *Task) log() *zap.Logger {
	if t.logger != nil {
		return t.logger
	}
	return log.L()
}

// Err returns the first error recorded by a setter.
func (t *Task) Err() error { return t.err }

// Endpoint returns the request URL without parameters.
func (t *Task) Endpoint() string {
	if t.path == "" {
		return t.url
	}
	return t.url + "/" + t.path
}

// Param returns the raw value of a parameter.
func (t *Task) Param(key string) (any, bool) {
	v, ok := t.params[key]
	return v, ok
}

// Values returns the encoded parameters, including f=json and the token.
func (t *Task) Values() url.Values {
	return t.values(nil)
}

func (t *Task) values(extra map[string]any) url.Values {
	merged := make(map[string]any, len(t.params)+len(extra)+2)
	merged["f"] = "json"
	for k, v := range t.params {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	if t.token != "" {
		merged["token"] = t.token
	}
	return esri.EncodeParams(merged)
}

// URL returns the full GET request URL.
func (t *Task) URL() string {
	return t.Endpoint() + "?" + t.Values().Encode()
}

func (t *Task) request(ctx context.Context, extra map[string]any, target any) error {
	if t.err != nil {
		return t.err
	}
	method := http.MethodGet
	if t.post {
		method = http.MethodPost
	}
	t.log().Debug("task request", zap.String("endpoint", t.Endpoint()), zap.String("method", method))
	return t.client.Request(ctx, method, t.Endpoint(), t.values(extra), target)
}

// appendLayerDef adds an id:where fragment to a ;-separated layerDefs string.
func (t *Task) appendLayerDef(id int, where string) {
	frag := fmt.Sprintf("%d:%s", id, where)
	if cur, ok := t.params["layerDefs"].(string); ok && cur != "" {
		t.params["layerDefs"] = cur + ";" + frag
		return
	}
	t.params["layerDefs"] = frag
}

// setGeometry normalizes g and stores geometry and geometryType.
func (t *Task) setGeometry(g any) bool {
	geom, typ, err := esri.NormalizeGeometry(g)
	if err != nil {
		t.fail(err)
		return false
	}
	t.params["geometry"] = geom
	t.params["geometryType"] = typ
	return true
}

// simplifyOffset converts a map's current resolution into a
// maxAllowableOffset in degrees.
func simplifyOffset(m maplibre.Map, factor float64) float64 {
	b := m.GetBounds()
	w, _ := m.CanvasSize()
	if w <= 0 {
		return 0
	}
	return (b.Max[0] - b.Min[0]) / float64(w) * factor
}

// extentParam renders a bound as xmin,ymin,xmax,ymax.
func extentParam(b [4]float64) string {
	parts := make([]string, len(b))
	for i, v := range b {
		s, _ := esri.FormatParam(v)
		parts[i] = s
	}
	return strings.Join(parts, ",")
}

// mergeProperties returns meta overlaid with attrs; attribute keys win.
func mergeProperties(meta, attrs map[string]any) map[string]any {
	props := make(map[string]any, len(meta)+len(attrs))
	for k, v := range meta {
		props[k] = v
	}
	for k, v := range attrs {
		props[k] = v
	}
	return props
}
