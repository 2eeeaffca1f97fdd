// Package api serves the developer-tools panel: a JSON API over the event
// store, a websocket change stream, and health and metrics endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/angel122382/rpcdevtools/internal/core"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewServer builds the panel router for engine.
func NewServer(engine *core.Engine) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	h := NewHandlers(engine)
	router.Get("/healthz", h.HandleHealth)
	router.Get("/readyz", h.HandleReady)
	router.Get("/metrics", h.HandlePrometheus)
	router.Get("/api/v1/stream", h.HandleStream)

	cfg := huma.DefaultConfig("rpcdevtools panel API", "1.0.0")
	api := humachi.New(router, cfg)

	registerRequestHandlers(api, engine)
	registerControlHandlers(api, engine)

	return router
}

type requestListOutput struct {
	Body struct {
		Requests []store.RequestRecord `json:"requests"`
		Count    int                   `json:"count"`
	}
}

type requestOutput struct {
	Body store.RequestRecord
}

type statsOutput struct {
	Body struct {
		CaptureID string      `json:"captureId"`
		Stats     store.Stats `json:"stats"`
		InFlight  int         `json:"inFlight"`
		Capacity  int         `json:"capacity"`
	}
}

func registerRequestHandlers(api huma.API, engine *core.Engine) {
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List recorded requests, newest first", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct {
			Limit  int    `query:"limit" minimum:"0" doc:"Maximum number of records. 0 returns all."`
			Type   string `query:"type" enum:"mutation,query" doc:"Only records classified with this type."`
			Status string `query:"status" enum:"pending,success,error" doc:"Only records with this status."`
			Method string `query:"method" doc:"Only records for this exact method."`
		}) (*requestListOutput, error) {
			recs := engine.Store.RequestsWhere(store.Filter{
				Limit:  input.Limit,
				Type:   rpctype.Type(input.Type),
				Status: input.Status,
				Method: input.Method,
			})
			if recs == nil {
				recs = []store.RequestRecord{}
			}
			out := &requestListOutput{}
			out.Body.Requests = recs
			out.Body.Count = len(recs)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-request", Method: http.MethodGet, Path: "/api/v1/requests/{capture_id}/{id}", Summary: "Get one record by capture and request id", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct {
			CaptureID string `path:"capture_id"`
			ID        string `path:"id"`
		}) (*requestOutput, error) {
			rec, ok := engine.Store.Request(input.CaptureID, input.ID)
			if !ok {
				return nil, huma.Error404NotFound("request not found")
			}
			return &requestOutput{Body: rec}, nil
		})

	type clearOutput struct {
		Body struct {
			Cleared int `json:"cleared"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-requests", Method: http.MethodDelete, Path: "/api/v1/requests", Summary: "Drop every recorded request", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct{}) (*clearOutput, error) {
			out := &clearOutput{}
			out.Body.Cleared = engine.Store.Len()
			engine.Store.ClearRequests()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Aggregate counts over the current history", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			out := &statsOutput{}
			out.Body.CaptureID = engine.Tracker.CaptureID()
			out.Body.Stats = engine.Store.Stats()
			out.Body.InFlight = engine.Tracker.InFlight()
			out.Body.Capacity = engine.Store.Cap()
			return out, nil
		})
}

func registerControlHandlers(api huma.API, engine *core.Engine) {
	type resetOutput struct {
		Body struct {
			Cleared int `json:"cleared"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "reset-tracking", Method: http.MethodPost, Path: "/api/v1/tracking/reset", Summary: "Forget start times of in-flight requests", Tags: []string{"Control"}},
		func(ctx context.Context, input *struct{}) (*resetOutput, error) {
			out := &resetOutput{}
			out.Body.Cleared = engine.Tracker.InFlight()
			engine.Tracker.ClearRequestTracking()
			return out, nil
		})

	type transportOutput struct {
		Body struct {
			PluginID   string `json:"pluginId"`
			Debug      bool   `json:"debug"`
			Enabled    bool   `json:"enabled"`
			Recreated  bool   `json:"recreated"`
			Generation int64  `json:"generation"`
		}
	}
	transportState := func(recreated bool) *transportOutput {
		c := engine.Transport.Client()
		out := &transportOutput{}
		out.Body.PluginID = c.PluginID()
		out.Body.Debug = c.Debug()
		out.Body.Enabled = c.Enabled()
		out.Body.Recreated = recreated
		out.Body.Generation = engine.Transport.Generation()
		return out
	}

	huma.Register(api, huma.Operation{OperationID: "get-transport", Method: http.MethodGet, Path: "/api/v1/transport", Summary: "Current event client settings", Tags: []string{"Control"}},
		func(ctx context.Context, input *struct{}) (*transportOutput, error) {
			return transportState(false), nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-debug", Method: http.MethodPut, Path: "/api/v1/debug", Summary: "Toggle verbose transport logging", Tags: []string{"Control"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Debug bool `json:"debug"`
			}
		}) (*transportOutput, error) {
			return transportState(engine.Transport.SetDebug(input.Body.Debug)), nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-enabled", Method: http.MethodPut, Path: "/api/v1/enabled", Summary: "Open or close the event emission gate", Tags: []string{"Control"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Enabled bool `json:"enabled"`
			}
		}) (*transportOutput, error) {
			return transportState(engine.Transport.SetEnabled(input.Body.Enabled)), nil
		})
}
