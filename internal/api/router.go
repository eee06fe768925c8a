// Package api serves the JSON admin endpoint the admin surface submits
// license forms to.
package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcourtman/wplicense/pkg/licensing"
	"github.com/rs/zerolog"
)

const maxRequestBodyBytes = 64 << 10

// Handlers holds the dependencies of the admin endpoint.
type Handlers struct {
	manager *licensing.Manager
	logger  zerolog.Logger
	version string

	mu            sync.RWMutex
	lastTransient *licensing.UpdateTransient
}

// NewRouter creates the admin HTTP router.
func NewRouter(manager *licensing.Manager, logger zerolog.Logger, version string) http.Handler {
	h := &Handlers{manager: manager, logger: logger, version: version}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestContext(logger))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{slug}/license", h.GetLicense)
		r.Post("/products/{slug}/license", h.SubmitLicense)
		r.Get("/products/{slug}/info", h.GetProductInfo)
		r.Post("/updates/check", h.CheckUpdates)
		r.Get("/notices", h.ListNotices)
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeErrorResponse(w, req, http.StatusNotFound, "not_found", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeErrorResponse(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	})
	return r
}
