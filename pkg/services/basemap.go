package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

// Basemap style service endpoints.
const (
	BasemapStylesV2 = "https://basemapstyles-api.arcgis.com/arcgis/rest/services/styles/v2/styles"
	BasemapStylesV1 = "https://basemaps-api.arcgis.com/arcgis/rest/services/styles"
)

// ErrMissingToken is returned when a basemap style has no API key or token.
var ErrMissingToken = errors.New("services: basemap styles need an API key or token")

// VectorBasemapOptions select an Esri basemap style.
type VectorBasemapOptions struct {
	StyleName string `json:"styleName" yaml:"styleName" doc:"Style name, e.g. arcgis/streets or ArcGIS:Streets"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty" doc:"API key or token"`
	Language  string `json:"language,omitempty" yaml:"language,omitempty" doc:"BCP 47 language for labels"`
	Worldview string `json:"worldview,omitempty" yaml:"worldview,omitempty" doc:"Worldview for boundaries and labels"`
	BaseURL   string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty" doc:"Override for the style service endpoint"`
}

// VectorBasemapStyle resolves an Esri basemap style name into a style URL
// and loads it onto maps that accept whole styles.
type VectorBasemapStyle struct {
	client *esri.Client

	mu   sync.Mutex
	opts VectorBasemapOptions
}

func NewVectorBasemapStyle(opts VectorBasemapOptions, options ...Option) (*VectorBasemapStyle, error) {
	if strings.TrimSpace(opts.StyleName) == "" {
		return nil, fmt.Errorf("services: basemap style name is required")
	}
	if opts.Token == "" {
		return nil, ErrMissingToken
	}
	if opts.Language != "" {
		tag, err := language.Parse(opts.Language)
		if err != nil {
			return nil, fmt.Errorf("services: invalid basemap language %q: %w", opts.Language, err)
		}
		opts.Language = tag.String()
	}
	cfg := &service{client: esri.DefaultClient}
	for _, opt := range options {
		opt(cfg)
	}
	return &VectorBasemapStyle{client: cfg.client, opts: opts}, nil
}

// Options returns a copy of the current options.
func (b *VectorBasemapStyle) Options() VectorBasemapOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// SetStyle switches to another style name.
func (b *VectorBasemapStyle) SetStyle(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("services: basemap style name is required")
	}
	b.mu.Lock()
	b.opts.StyleName = name
	b.mu.Unlock()
	return nil
}

// StyleURL returns the style document URL. Names written as ArcGIS:Streets
// use the v1 service, all others the v2 service.
func (b *VectorBasemapStyle) StyleURL() string {
	o := b.Options()
	v := url.Values{}
	v.Set("token", o.Token)

	if strings.Contains(o.StyleName, ":") {
		base := o.BaseURL
		if base == "" {
			base = BasemapStylesV1
		}
		v.Set("type", "style")
		return strings.TrimRight(base, "/") + "/" + o.StyleName + "?" + v.Encode()
	}

	base := o.BaseURL
	if base == "" {
		base = BasemapStylesV2
	}
	if o.Language != "" {
		v.Set("language", o.Language)
	}
	if o.Worldview != "" {
		v.Set("worldview", o.Worldview)
	}
	name := o.StyleName
	if !strings.Contains(name, "/") {
		name = "arcgis/" + strings.ToLower(name)
	}
	return strings.TrimRight(base, "/") + "/" + name + "?" + v.Encode()
}

// Apply loads the style onto m when the map supports whole styles.
func (b *VectorBasemapStyle) Apply(m maplibre.Map) error {
	ss, ok := m.(maplibre.StyleSetter)
	if !ok {
		return fmt.Errorf("services: map cannot load styles")
	}
	return ss.SetStyle(b.StyleURL())
}

// LoadStyle fetches and decodes the style document.
func (b *VectorBasemapStyle) LoadStyle(ctx context.Context) (*maplibre.Style, error) {
	var style maplibre.Style
	if err := b.client.Get(ctx, b.StyleURL(), nil, &style); err != nil {
		return nil, fmt.Errorf("failed to load basemap style: %w", err)
	}
	if style.Sources == nil {
		style.Sources = map[string]*maplibre.Source{}
	}
	return &style, nil
}
