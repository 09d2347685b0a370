package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints. gatherer backs /metrics and may be nil.
func (a *API) Routes(gatherer prometheus.Gatherer) (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.metrics.middleware)

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(httprate.LimitByIP(a.config.RateLimitPerMinute, time.Minute))

		r.Get("/mods/{id}/logo", a.handleGetLogo)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/me", a.handleMe)
			r.Post("/mods", a.handleCreateMod)
			r.Get("/mods/{id}", a.handleGetMod)
			r.Patch("/mods/{id}", a.handleEditMod)
			r.Put("/mods/{id}/logo", a.handlePutLogo)
			r.Post("/mods/{id}/modfiles", a.handleRegisterModfile)
			r.Post("/mods/{id}/modfiles/{fileID}/complete", a.handleCompleteModfile)
			r.Get("/modfiles/{fileID}/download", a.handleDownloadModfile)
		})
	})

	return r, nil
}
