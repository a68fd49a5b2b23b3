package api

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/internal/mapstate"
	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

type QueryBody struct {
	URL            string           `json:"url" format:"uri" doc:"Feature or map service layer URL"`
	Where          string           `json:"where,omitempty" doc:"SQL where clause" example:"POP > 1000"`
	Filter         *esri.FilterSpec `json:"filter,omitempty" doc:"Structured filter, used instead of where"`
	OutFields      []string         `json:"outFields,omitempty" doc:"Fields to return; empty returns all"`
	BBox           []float64        `json:"bbox,omitempty" minItems:"4" maxItems:"4" doc:"west,south,east,north filter"`
	OrderBy        string           `json:"orderBy,omitempty" doc:"Field to sort by, optionally followed by ASC or DESC" example:"NAME DESC"`
	Limit          int              `json:"limit,omitempty" minimum:"0" doc:"Maximum features"`
	Offset         int              `json:"offset,omitempty" minimum:"0" doc:"Features to skip"`
	ReturnGeometry *bool            `json:"returnGeometry,omitempty" doc:"Include geometry (default true)"`
	CountOnly      bool             `json:"countOnly,omitempty" doc:"Return only the feature count"`
	Token          string           `json:"token,omitempty" doc:"ArcGIS token"`
}

type FindBody struct {
	URL          string   `json:"url" format:"uri" doc:"MapServer URL"`
	SearchText   string   `json:"searchText" minLength:"1" doc:"Text to search for"`
	SearchFields []string `json:"searchFields,omitempty" doc:"Fields to search"`
	Layers       []int    `json:"layers,omitempty" doc:"Layer ids to search"`
	Contains     *bool    `json:"contains,omitempty" doc:"Substring match (default true)"`
	Token        string   `json:"token,omitempty" doc:"ArcGIS token"`
}

type IdentifyBody struct {
	Service   string  `json:"service,omitempty" doc:"Id of a mounted service"`
	URL       string  `json:"url,omitempty" doc:"MapServer URL, used when service is empty"`
	Lng       float64 `json:"lng" minimum:"-180" maximum:"180"`
	Lat       float64 `json:"lat" minimum:"-90" maximum:"90"`
	Layers    []int   `json:"layers,omitempty" doc:"Layer ids (url only)"`
	Tolerance int     `json:"tolerance,omitempty" minimum:"0" doc:"Pixel tolerance (url only)"`
	Token     string  `json:"token,omitempty" doc:"ArcGIS token (url only)"`
}

type TaskResultBody struct {
	RequestID string                  `json:"requestId" doc:"Request id, also sent as X-Request-ID"`
	Count     *int                    `json:"count,omitempty" doc:"Feature count (countOnly queries)"`
	Features  *esri.FeatureCollection `json:"features,omitempty" doc:"GeoJSON result"`
}

type TaskOutput struct {
	RequestID string `header:"X-Request-ID"`
	Body      TaskResultBody
}

func newTaskOutput() *TaskOutput {
	id := uuid.NewString()
	return &TaskOutput{RequestID: id, Body: TaskResultBody{RequestID: id}}
}

// TaskHandler proxies query, find and identify requests to ArcGIS.
type TaskHandler struct {
	svc    *Services
	client *esri.Client
}

func NewTaskHandler(svc *Services) *TaskHandler {
	return &TaskHandler{svc: svc, client: esri.DefaultClient}
}

// RegisterTasks registers the task proxy routes.
func (h *TaskHandler) RegisterTasks(api huma.API) {
	huma.Post(api, "/api/v1/tasks/query", h.Query, huma.OperationTags("tasks"))
	huma.Post(api, "/api/v1/tasks/find", h.Find, huma.OperationTags("tasks"))
	huma.Post(api, "/api/v1/tasks/identify", h.Identify, huma.OperationTags("tasks"))
}

func (h *TaskHandler) options(token string) []tasks.Option {
	opts := []tasks.Option{tasks.WithClient(h.client)}
	if token != "" {
		opts = append(opts, tasks.WithToken(token))
	}
	return opts
}

func (h *TaskHandler) Query(ctx context.Context, input *struct{ Body QueryBody }) (*TaskOutput, error) {
	in := input.Body
	q, err := tasks.NewQuery(in.URL, h.options(in.Token)...)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if in.Where != "" {
		q.Where(in.Where)
	}
	if in.Filter != nil {
		f, err := in.Filter.Build()
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		q.WhereFilter(f)
	}
	if len(in.OutFields) > 0 {
		q.OutFields(in.OutFields...)
	}
	if len(in.BBox) == 4 {
		q.Intersects(esri.Bounds{
			SouthWest: esri.LngLat{Lng: in.BBox[0], Lat: in.BBox[1]},
			NorthEast: esri.LngLat{Lng: in.BBox[2], Lat: in.BBox[3]},
		})
	}
	if in.OrderBy != "" {
		field, order, _ := strings.Cut(in.OrderBy, " ")
		q.OrderBy(field, order)
	}
	if in.Limit > 0 {
		q.Limit(in.Limit)
	}
	if in.Offset > 0 {
		q.Offset(in.Offset)
	}
	if in.ReturnGeometry != nil {
		q.ReturnGeometry(*in.ReturnGeometry)
	}

	out := newTaskOutput()
	if in.CountOnly {
		n, err := q.Count(ctx)
		if err != nil {
			return nil, taskError(out.RequestID, "query", err)
		}
		out.Body.Count = &n
		return out, nil
	}
	fc, err := q.Run(ctx)
	if err != nil {
		return nil, taskError(out.RequestID, "query", err)
	}
	out.Body.Features = fc
	return out, nil
}

func (h *TaskHandler) Find(ctx context.Context, input *struct{ Body FindBody }) (*TaskOutput, error) {
	in := input.Body
	f, err := tasks.NewFind(in.URL, h.options(in.Token)...)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	f.SearchText(in.SearchText)
	if len(in.SearchFields) > 0 {
		f.SearchFields(in.SearchFields...)
	}
	if len(in.Layers) > 0 {
		f.Layers(in.Layers...)
	}
	if in.Contains != nil {
		f.Contains(*in.Contains)
	}

	out := newTaskOutput()
	fc, err := f.Run(ctx)
	if err != nil {
		return nil, taskError(out.RequestID, "find", err)
	}
	out.Body.Features = fc
	return out, nil
}

func (h *TaskHandler) Identify(ctx context.Context, input *struct{ Body IdentifyBody }) (*TaskOutput, error) {
	in := input.Body
	point := esri.LngLat{Lng: in.Lng, Lat: in.Lat}
	out := newTaskOutput()

	if in.Service != "" {
		if h.svc == nil || h.svc.State == nil {
			return nil, huma.Error503ServiceUnavailable("map not available")
		}
		fc, err := h.svc.State.Identify(ctx, in.Service, point)
		if err != nil {
			return nil, taskError(out.RequestID, "identify", err)
		}
		out.Body.Features = fc
		return out, nil
	}

	if in.URL == "" {
		return nil, huma.Error400BadRequest("service or url is required")
	}
	task, err := tasks.NewIdentifyFeatures(in.URL, h.options(in.Token)...)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if h.svc != nil && h.svc.State != nil {
		task.On(h.svc.State.Map())
	}
	task.At(point)
	if len(in.Layers) > 0 {
		task.Layers(in.Layers...)
	}
	if in.Tolerance > 0 {
		task.Tolerance(in.Tolerance)
	}
	fc, err := task.Run(ctx)
	if err != nil {
		return nil, taskError(out.RequestID, "identify", err)
	}
	out.Body.Features = fc
	return out, nil
}

// taskError maps ArcGIS failures to 502 and everything the caller got
// wrong to 4xx.
func taskError(requestID, op string, err error) error {
	var apiErr *esri.APIError
	var httpErr *esri.HTTPError
	var urlErr *url.Error
	switch {
	case errors.Is(err, mapstate.ErrNotMounted):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(op + " timed out")
	case errors.As(err, &apiErr), errors.As(err, &httpErr), errors.As(err, &urlErr):
		log.Warn("[api] task failed",
			zap.String("task", op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return huma.Error502BadGateway(op+" failed: "+err.Error(), err)
	}
	return huma.Error400BadRequest(err.Error())
}
