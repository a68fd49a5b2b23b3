package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	svc *Services
}

func NewInfoHandler(svc *Services) *InfoHandler {
	return &InfoHandler{svc: svc}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Services int      `json:"services" doc:"Number of catalog entries"`
	Mounted  int      `json:"mounted" doc:"Number of services mounted on the map"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-esri",
		Version:  Version,
		Features: []string{"dynamic", "tiled", "image", "feature", "vectortile", "basemap", "query", "find", "identify"},
	}
	if h.svc != nil && h.svc.Catalog != nil {
		body.Services = h.svc.Catalog.Len()
	}
	if h.svc != nil && h.svc.State != nil {
		body.Mounted = len(h.svc.State.Mounted())
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
