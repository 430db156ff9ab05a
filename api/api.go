// Package api exposes the execution engine over HTTP: creating and approving
// deploys, inspecting and stopping jobs, streaming job output and lifecycle
// events, and reporting queue state.
//
// Authentication is handled in front of this handler. The acting user is
// read from the X-Samson-User header.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zendesk/samson-sub001/engine"
)

// UserHeader carries the name of the acting user.
const UserHeader = "X-Samson-User"

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	router chi.Router
}

// New creates an API from an Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		r := chi.NewRouter()
		r.Use(chimw.RequestID)
		r.Use(chimw.RealIP)
		r.Use(chimw.Recoverer)
		a.RegisterRoutes(r)
		a.router = r
	}
	return a.router
}

// RegisterRoutes registers every route on router.
func (a *API) RegisterRoutes(router chi.Router) {
	a.registerDeployRoutes(router)
	a.registerJobRoutes(router)
	a.registerStatusRoutes(router)
}

func (a *API) registerDeployRoutes(router chi.Router) {
	router.Post("/projects/{project}/stages/{stage}/deploys", a.createDeploy)
	router.Get("/deploys", a.listDeploys)
	router.Route("/deploys/{deployID}", func(r chi.Router) {
		r.Get("/", a.getDeploy)
		r.Delete("/", a.stopDeploy)
		r.Post("/buddy_check", a.approveDeploy)
	})
}

func (a *API) registerJobRoutes(router chi.Router) {
	router.Get("/jobs", a.listJobs)
	router.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", a.getJob)
		r.Delete("/", a.stopJob)
		r.Get("/stream", a.streamJob)
		r.Get("/ws", a.streamJobWebSocket)
	})
	router.Get("/events", a.streamEvents)
}

func (a *API) registerStatusRoutes(router chi.Router) {
	router.Get("/queue", a.queueStatus)
	router.Get("/healthz", a.health)
}

func userFrom(r *http.Request) string {
	return r.Header.Get(UserHeader)
}
