// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-esri/internal/catalog"
	"github.com/joeblew999/plat-esri/internal/humastar"
	"github.com/joeblew999/plat-esri/internal/mapstate"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Catalog *catalog.Catalog
	State   *mapstate.State
}

// RegisterRoutes registers every handler in this package on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewTaskHandler(svc))
	huma.AutoRegister(api, NewEventHandler(svc))
	NewInfoHandler(svc).RegisterRoutes(api)
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Service ID" example:"parcels"`
}

// ServiceBody is a catalog entry plus its live state on the map.
type ServiceBody struct {
	catalog.Entry
	Mounted     bool   `json:"mounted" doc:"Whether the service is mounted on the map"`
	Attribution string `json:"attribution,omitempty" doc:"Copyright text reported by the service"`
}

var serviceActions = []humastar.ActionDef{
	{Rel: "edit", Pattern: "/api/v1/services/%s", Method: "PUT", Title: "Edit service"},
	{Rel: "delete", Pattern: "/api/v1/services/%s", Method: "DELETE", Title: "Remove service"},
}

// Actions advertises the operations available on this service.
func (b ServiceBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, serviceActions)
}

type ServiceOutput struct {
	Body ServiceBody
}

type ServicesOutput struct {
	Body []ServiceBody
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type StyleInput struct {
	Basemap bool `query:"basemap" doc:"Compose the Esri basemap beneath the services"`
}

// APIHandler holds the health, catalog and style handlers. Methods named
// Register* are auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterServices registers catalog CRUD routes.
func (h *APIHandler) RegisterServices(api huma.API) {
	huma.Get(api, "/api/v1/services", h.GetServices, huma.OperationTags("services"))
	huma.Post(api, "/api/v1/services", h.CreateService, huma.OperationTags("services"))
	huma.Get(api, "/api/v1/services/{id}", h.GetService, huma.OperationTags("services"))
	huma.Put(api, "/api/v1/services/{id}", h.PutService, huma.OperationTags("services"))
	huma.Delete(api, "/api/v1/services/{id}", h.DeleteService, huma.OperationTags("services"))
}

// RegisterStyle registers the style document route.
func (h *APIHandler) RegisterStyle(api huma.API) {
	huma.Get(api, "/api/v1/style.json", h.GetStyle, huma.OperationTags("map"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) body(e catalog.Entry) ServiceBody {
	b := ServiceBody{Entry: e}
	if h.svc.State == nil {
		return b
	}
	if _, ok := h.svc.State.Service(e.ID); ok {
		b.Mounted = true
		b.Attribution = h.svc.State.Map().Attributions()[e.ID]
	}
	return b
}

func (h *APIHandler) GetServices(ctx context.Context, input *struct{}) (*ServicesOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return &ServicesOutput{Body: []ServiceBody{}}, nil
	}
	entries := h.svc.Catalog.List()
	out := make([]ServiceBody, len(entries))
	for i, e := range entries {
		out[i] = h.body(e)
	}
	return &ServicesOutput{Body: out}, nil
}

func (h *APIHandler) CreateService(ctx context.Context, input *struct{ Body catalog.Entry }) (*ServiceOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	created, err := h.svc.Catalog.Create(input.Body)
	if err != nil {
		return nil, catalogError(err)
	}
	return &ServiceOutput{Body: h.body(created)}, nil
}

func (h *APIHandler) GetService(ctx context.Context, input *IDInput) (*ServiceOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error404NotFound("catalog not available")
	}
	e, ok := h.svc.Catalog.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("service not found")
	}
	return &ServiceOutput{Body: h.body(e)}, nil
}

func (h *APIHandler) PutService(ctx context.Context, input *struct {
	IDInput
	Body catalog.Entry
}) (*ServiceOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	updated, err := h.svc.Catalog.Update(input.ID, input.Body)
	if err != nil {
		return nil, catalogError(err)
	}
	return &ServiceOutput{Body: h.body(updated)}, nil
}

func (h *APIHandler) DeleteService(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("catalog not available")
	}
	if err := h.svc.Catalog.Delete(input.ID); err != nil {
		return nil, catalogError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Service deleted"}}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *StyleInput) (*struct{ Body any }, error) {
	if h.svc == nil || h.svc.State == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	style, err := h.svc.State.Style(ctx, input.Basemap)
	if err != nil {
		return nil, huma.Error502BadGateway("basemap style unavailable", err)
	}
	return &struct{ Body any }{Body: style}, nil
}

func catalogError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, catalog.ErrExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, catalog.ErrInvalid):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError("catalog error", err)
}
