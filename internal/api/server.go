package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/api/handler"
	mw "github.com/go4it/marketplace/internal/api/middleware"
	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/metrics"
)

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check metrics.ReadyFunc
}

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	cfg      *config.Config
	checks   []ReadyCheck
}

func NewServer(logger zerolog.Logger, services *core.Services, cfg *config.Config, checks ...ReadyCheck) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		cfg:      cfg,
		checks:   checks,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Identity)

		orgApp := handler.NewOrgApp(s.services)
		r.Get("/orgs/{orgID}/apps", orgApp.List)
		r.Post("/orgs/{orgID}/apps", orgApp.Add)
		r.Get("/orgs/{orgID}/apps/{appID}", orgApp.Get)
		r.Delete("/orgs/{orgID}/apps/{appID}", orgApp.Remove)
		r.Post("/orgs/{orgID}/apps/{appID}/launch", orgApp.Launch)
		r.Post("/orgs/{orgID}/apps/{appID}/retry", orgApp.Retry)
		r.Post("/orgs/{orgID}/apps/{appID}/go-live", orgApp.GoLive)
		r.Post("/orgs/{orgID}/apps/{appID}/update", orgApp.Update)
		r.Post("/orgs/{orgID}/apps/{appID}/modify", orgApp.Modify)
		r.Put("/orgs/{orgID}/apps/{appID}/access", orgApp.SetAccess)
		r.Put("/orgs/{orgID}/apps/{appID}/subdomain", orgApp.SetSubdomain)

		prog := handler.NewProgress(s.services.Orchestrator, s.cfg.AllowedOrigins)
		r.Get("/orgs/{orgID}/apps/{appID}/events", prog.Stream)
		r.Get("/orgs/{orgID}/apps/{appID}/ws", prog.Socket)

		draft := handler.NewDraft(s.services.Drafts)
		r.Get("/drafts", draft.List)
		r.Post("/drafts", draft.Deploy)
		r.Get("/drafts/{generatedAppID}", draft.Get)

		app := handler.NewApplication(s.services.Versions)
		r.Post("/applications/{appID}/versions", app.Publish)
	})

	s.router.Route("/internal/v1", func(r chi.Router) {
		r.Use(mw.ProviderSecret(s.cfg.ProviderWebhookSecret))

		events := handler.NewProviderEvent(s.services.Orchestrator)
		r.Post("/provider/events", events.Receive)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			healthy = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
