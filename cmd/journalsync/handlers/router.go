package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/journalsync/internal/errors"
)

// Router bundles the handlers mounted under /api/v1.
type Router struct {
	Operations *OperationsHandler
	Sync       *SyncHandler
	Cache      *CacheHandler

	// Optional extras mounted at the root.
	Metrics    http.Handler
	WebSocket  http.Handler
	Middleware []mux.MiddlewareFunc
}

// APIPrefix is the path prefix of every status API route.
const APIPrefix = "/api/v1"

// Handler builds the mux router. API routes are registered on the root
// router so a method mismatch yields 405 rather than 404.
func (rt Router) Handler() *mux.Router {
	r := mux.NewRouter()
	for _, mw := range rt.Middleware {
		r.Use(mw)
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := func(path string, h http.HandlerFunc, method string) {
		r.HandleFunc(APIPrefix+path, h).Methods(method)
	}

	api("/health", Health, http.MethodGet)

	if h := rt.Sync; h != nil {
		api("/status", h.GetStatus, http.MethodGet)
		api("/owners/{owner}/sync", h.SyncOwner, http.MethodPost)
		api("/owners/{owner}/sync", h.OwnerStatus, http.MethodGet)
	}
	if h := rt.Operations; h != nil {
		api("/owners/{owner}/operations", h.ListPending, http.MethodGet)
		api("/owners/{owner}/operations", h.Enqueue, http.MethodPost)
		api("/owners/{owner}/operations/count", h.Count, http.MethodGet)
		api("/owners/{owner}/failures", h.ListFailed, http.MethodGet)
		api("/owners/{owner}/failures/{id}", h.DismissFailed, http.MethodDelete)
	}
	if h := rt.Cache; h != nil {
		api("/cache/{kind}", h.ListSnapshots, http.MethodGet)
		api("/feed", h.Feed, http.MethodGet)
		api("/connections/{connection}/journal", h.Journal, http.MethodGet)
		api("/users/{user}/moods", h.Moods, http.MethodGet)
	}

	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods(http.MethodGet)
	}
	if rt.WebSocket != nil {
		r.Handle("/ws", rt.WebSocket)
	}
	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, errors.Newf(errors.ErrNotFound, "no route for %s", r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, errors.Newf(errors.ErrMethodNotAllowed, "method %s not allowed on %s", r.Method, r.URL.Path))
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "journalsync",
	})
}
