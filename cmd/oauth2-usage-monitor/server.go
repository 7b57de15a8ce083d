package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/health"
	loginapi "github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/login"
	usageapi "github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/usage"
)

const requestTimeout = 30 * time.Second

type server struct {
	router *chi.Mux
	health *health.Handler
	usage  *usageapi.Handler
	login  *loginapi.Handler
}

func newServer(c *components, logger *zap.Logger) *server {
	srv := &server{
		router: chi.NewRouter(),
		health: health.New().WithVersion(Version).WithComponent("credential_store", c.creds),
		usage:  usageapi.New(c.usage, c.creds, logger.Named("http")),
		login:  loginapi.New(c.sessions),
	}
	if c.cache != nil {
		srv.health.WithComponent("snapshot_cache", c.cache)
	}

	// Set up middleware
	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(requestTimeout))

	srv.routes()
	return srv
}

func (s *server) routes() {
	s.router.Method(http.MethodGet, "/health", s.health)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/usage", s.usage.Get)
	s.router.Post("/usage/refresh", s.usage.Refresh)
	s.router.Delete("/credential", s.usage.Logout)

	s.router.Post("/login", s.login.Start)
	s.router.Get("/login", s.login.Status)
	s.router.Delete("/login", s.login.Cancel)
}
