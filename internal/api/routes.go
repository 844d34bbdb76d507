package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"reqshield/internal/models"
	"reqshield/internal/ratelimit"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes: health, the admin API when enabled,
// and every other path forwarded to upstream behind the defense middleware.
func SetupRoutes(handlers *Handlers, config *models.Config, upstream http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET", "HEAD")

	if config.Admin.Enabled {
		adminAPI := router.PathPrefix("/admin/defense").Subrouter()
		adminAPI.Use(adminAuthMiddleware(config.Admin.Token))
		adminAPI.HandleFunc("/stats", handlers.DefenseStats).Methods("GET")
		adminAPI.HandleFunc("/blocked", handlers.ListBlocked).Methods("GET")
		adminAPI.HandleFunc("/blocked", handlers.Block).Methods("POST")
		adminAPI.HandleFunc("/blocked/{key}", handlers.Unblock).Methods("DELETE")
	}

	if upstream == nil {
		upstream = http.HandlerFunc(notFoundHandler)
	}
	if config.Defense.Enabled {
		upstream = ratelimit.Middleware(handlers.engine,
			ratelimit.WithPrincipalHeader(config.Server.PrincipalHeader),
		)(upstream)
	}
	router.PathPrefix("/").Handler(upstream)

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
}
