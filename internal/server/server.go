package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/api"
	"github.com/joeblew999/plat-esri/internal/catalog"
	"github.com/joeblew999/plat-esri/internal/config"
	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/internal/mapstate"
	"github.com/joeblew999/plat-esri/pkg/services"
)

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	DataDir    string
	ConfigFile string // YAML with the initial view, basemap and services
}

// Server is the plat-esri HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	services *api.Services
	cancel   context.CancelFunc
}

// New creates a new server. The catalog in DataDir is seeded from the
// config file the first time it is opened.
func New(cfg Config) (*Server, error) {
	conf := config.Default()
	if cfg.ConfigFile != "" {
		var err error
		if conf, err = config.Load(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if cat.Len() == 0 && len(conf.Services) > 0 {
		n, err := cat.Seed(conf.Services)
		if err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		log.Info("[server] catalog seeded", zap.Int("services", n), zap.String("from", cfg.ConfigFile))
	}

	var opts []mapstate.Option
	if conf.Basemap != nil {
		basemap, err := services.NewVectorBasemapStyle(*conf.Basemap)
		if err != nil {
			return nil, fmt.Errorf("basemap: %w", err)
		}
		opts = append(opts, mapstate.WithBasemap(basemap))
	}
	state := mapstate.New(conf.View, cat, opts...)
	if err := state.Sync(); err != nil {
		log.Warn("[server] some services failed to mount", zap.Error(err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	go state.Run(ctx)

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-esri API", api.Version)
	humaConfig.Info.Description = "ArcGIS REST services composed onto a MapLibre style: service catalog, style document, query/find/identify tasks and live map events."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		services: &api.Services{Catalog: cat, State: state},
		cancel:   cancel,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close stops following the catalog and removes every mounted service.
func (s *Server) Close() error {
	s.cancel()
	return s.services.State.Close()
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-esri",
		"status":  "running",
	})
}
