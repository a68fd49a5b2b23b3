// Package config reads the server's YAML configuration: the initial view,
// an optional Esri basemap and the services to seed the catalog with.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-esri/internal/catalog"
	"github.com/joeblew999/plat-esri/pkg/services"
)

// View is the map viewport the server composes styles for.
type View struct {
	Center [2]float64 `yaml:"center" json:"center" doc:"Map center [lng, lat]"`
	Zoom   float64    `yaml:"zoom" json:"zoom" doc:"Zoom level"`
	Width  int        `yaml:"width" json:"width" doc:"Canvas width in pixels"`
	Height int        `yaml:"height" json:"height" doc:"Canvas height in pixels"`
}

// Config is the file format.
type Config struct {
	View     View                           `yaml:"view"`
	Basemap  *services.VectorBasemapOptions `yaml:"basemap,omitempty"`
	Services []catalog.Entry                `yaml:"services,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		View: View{Center: [2]float64{0, 0}, Zoom: 2, Width: 1024, Height: 768},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the view and every seeded service.
func (c *Config) Validate() error {
	var errs []error
	if c.View.Width <= 0 || c.View.Height <= 0 {
		errs = append(errs, errors.New("view width and height must be positive"))
	}
	if c.View.Zoom < 0 || c.View.Zoom > 24 {
		errs = append(errs, fmt.Errorf("view zoom %v out of range", c.View.Zoom))
	}
	if lat := c.View.Center[1]; lat < -90 || lat > 90 {
		errs = append(errs, fmt.Errorf("view latitude %v out of range", lat))
	}
	if c.Basemap != nil && c.Basemap.StyleName == "" {
		errs = append(errs, errors.New("basemap styleName is required"))
	}
	for i, e := range c.Services {
		if err := catalog.Validate(e); err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
