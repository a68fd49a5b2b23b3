package api

import (
	"bytes"
	"context"
	"html/template"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/humastar"
	"github.com/joeblew999/plat-esri/internal/log"
)

var serviceListTmpl = template.Must(template.New("services").Parse(`<ul>
{{- range .}}
<li id="service-{{.ID}}" data-type="{{.Type}}"{{if .Mounted}} class="mounted"{{end}}>{{.Name}}{{if .Attribution}} <small>{{.Attribution}}</small>{{end}}</li>
{{- else}}
<li class="empty">No services</li>
{{- end}}
</ul>`))

// EventHandler streams catalog and map changes to the Datastar UI via SSE.
type EventHandler struct {
	api *APIHandler
}

func NewEventHandler(svc *Services) *EventHandler {
	return &EventHandler{api: NewAPIHandler(svc)}
}

func (h *EventHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/view", h.SetView, huma.OperationTags("map"))
}

func (h *EventHandler) renderServices() (string, error) {
	out, err := h.api.GetServices(context.Background(), nil)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := serviceListTmpl.Execute(&buf, out.Body); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *EventHandler) patchServices(sse humastar.SSE) error {
	html, err := h.renderServices()
	if err != nil {
		return err
	}
	return sse.Patch(html, "#service-list")
}

func (h *EventHandler) viewSignals() map[string]any {
	center, zoom := h.api.svc.State.Map().View()
	return map[string]any{"lng": center[0], "lat": center[1], "zoom": zoom}
}

func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	svc := h.api.svc
	if svc == nil || svc.Catalog == nil || svc.State == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	return humastar.Stream(func(ctx context.Context, sse humastar.SSE) {
		events := svc.Catalog.Bus().Subscribe()
		defer svc.Catalog.Bus().Unsubscribe(events)
		changes := svc.State.Map().Subscribe()
		defer svc.State.Map().Unsubscribe(changes)

		if err := h.patchServices(sse); err != nil {
			log.Warn("[api] initial service list failed", zap.Error(err))
			return
		}
		sse.Signals(h.viewSignals())

		for {
			var err error
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err = h.patchServices(sse); err == nil {
					err = sse.DispatchCustomEvent("service-changed", ev)
				}
			case c, ok := <-changes:
				if !ok {
					return
				}
				if c.Kind == "view" {
					err = sse.Signals(h.viewSignals())
				} else {
					err = sse.DispatchCustomEvent("map-changed", c)
				}
			}
			if err != nil {
				log.Debug("[api] event stream closed", zap.Error(err))
				return
			}
		}
	}), nil
}

// SetView moves the map to the lng, lat and zoom signals.
func (h *EventHandler) SetView(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if h.api.svc == nil || h.api.svc.State == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	state := h.api.svc.State
	center, zoom := state.Map().View()
	if signals.Has("lng") && signals.Has("lat") {
		center = orb.Point{signals.Float("lng"), signals.Float("lat")}
	}
	if signals.Has("zoom") {
		zoom = signals.Float("zoom")
	}
	if center[0] < -180 || center[0] > 180 || center[1] < -90 || center[1] > 90 {
		return humastar.Stream(func(_ context.Context, sse humastar.SSE) {
			sse.Error("center out of range")
		}), nil
	}
	state.SetView(center, zoom)
	return humastar.Stream(func(_ context.Context, sse humastar.SSE) {
		sse.Signals(h.viewSignals())
	}), nil
}
