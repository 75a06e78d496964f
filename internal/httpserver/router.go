// Package httpserver wires the JSON API and DAV routes onto one chi router.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/taskcal-dev/taskcal/internal/api"
	"github.com/taskcal-dev/taskcal/internal/auth"
	"github.com/taskcal-dev/taskcal/internal/config"
	"github.com/taskcal-dev/taskcal/internal/dav"
	"github.com/taskcal-dev/taskcal/internal/httpserver/ratelimit"
	"github.com/taskcal-dev/taskcal/internal/importer"
	"github.com/taskcal-dev/taskcal/internal/metrics"
	"github.com/taskcal-dev/taskcal/internal/service"
	"github.com/taskcal-dev/taskcal/internal/store"
)

func init() {
	chi.RegisterMethod("PROPFIND")
}

// NewRouter wires all HTTP routes.
func NewRouter(cfg *config.Config, st *store.Store, authService *auth.Service) http.Handler {
	r := chi.NewRouter()

	// DAV clients poll on sync intervals; give them far more headroom than
	// the JSON API.
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(10), 20, 5*time.Minute, cfg.TrustedProxies)
	davRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	// CalDAV discovery.
	wellKnownHandler := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dav/", http.StatusMovedPermanently)
	}
	r.Get("/.well-known/caldav", wellKnownHandler)
	r.MethodFunc("PROPFIND", "/.well-known/caldav", wellKnownHandler)
	r.MethodFunc("PROPFIND", "/", wellKnownHandler)

	taskService := service.NewTaskService(st.Tasks, st.Reminders)
	apiHandler := api.NewHandler(st, taskService, importer.New(st.Tasks))

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(authService.RequireDAVAuth)

		r.Get("/calendars", apiHandler.ListCalendars)
		r.Route("/calendars/{calendarSlug}", func(r chi.Router) {
			r.Get("/occurrences", apiHandler.Occurrences)
			r.Get("/export", apiHandler.Export)
			r.Post("/import/preview", apiHandler.ImportPreview)
			r.Post("/import", apiHandler.ImportApply)

			r.Post("/tasks", apiHandler.CreateTask)
			r.Get("/tasks/{uid}", apiHandler.GetTask)
			r.Put("/tasks/{uid}", apiHandler.UpdateTask)
			r.Delete("/tasks/{uid}", apiHandler.DeleteTask)
			r.Post("/tasks/{uid}/override", apiHandler.OverrideOccurrence)
		})
	})

	davHandler := dav.NewHandler(st, taskService)

	r.Route("/dav", func(r chi.Router) {
		r.Use(davRateLimiter.Middleware())

		// OPTIONS stays unauthenticated for client capability discovery.
		r.MethodFunc("OPTIONS", "/*", davHandler.Options)

		r.Group(func(r chi.Router) {
			r.Use(authService.RequireDAVAuth)
			r.MethodFunc("GET", "/*", davHandler.Get)
			r.MethodFunc("PROPFIND", "/*", davHandler.Propfind)
			r.MethodFunc("PUT", "/*", davHandler.Put)
			r.MethodFunc("DELETE", "/*", davHandler.Delete)
		})
	})

	return r
}
