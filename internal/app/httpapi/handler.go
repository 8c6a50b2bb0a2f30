// Package httpapi exposes the mutual-aid services over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/mutualaid/internal/app"
	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/httputil"
	"github.com/R3E-Network/mutualaid/internal/logging"
	"github.com/R3E-Network/mutualaid/internal/middleware"
)

// Config configures the middleware chain.
type Config struct {
	JWTSecret   string
	SkipPaths   []string
	CORSOrigins []string
	// Limiter is optional; without it requests are not throttled.
	Limiter *middleware.RateLimiter
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns the full API: routes wrapped in tracing, metrics,
// CORS, authentication and rate limiting, outermost first.
func NewHandler(application *app.Application, cfg Config, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "no route for "+r.URL.Path)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	h.registerPostRoutes(v1)
	h.registerExchangeRoutes(v1)
	h.registerProfileRoutes(v1)

	var chain http.Handler = router
	if cfg.Limiter != nil {
		chain = cfg.Limiter.Handler(chain)
	}
	chain = middleware.NewAuthMiddleware(cfg.JWTSecret, log.Component("auth"), cfg.SkipPaths).Handler(chain)
	chain = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(chain)
	chain = metrics.InstrumentHandler(chain)
	chain = middleware.NewTracingMiddleware(log.Component("http")).Handler(chain)
	return chain
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

// userID returns the authenticated caller, writing a 401 when absent.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	return httputil.RequireUserID(w, r)
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// orEmpty keeps empty lists encoded as [] rather than null.
func orEmpty[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
