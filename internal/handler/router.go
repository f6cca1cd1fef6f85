package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rbaliyan/dmbox/internal/metrics"
	"github.com/rbaliyan/dmbox/internal/middleware"
)

// RouterConfig wires a Handler into a chi router.
type RouterConfig struct {
	Handler  *Handler
	Tokens   middleware.TokenVerifier
	Limiter  *middleware.RateLimiter
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the full route table with the middleware chain:
// recovery, request id, logging, metrics, then per-route auth and limits.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Handler

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	r.Get("/healthz", h.Healthz)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	protected := func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Tokens))
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.PerUser())
		}
	}

	r.Route("/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.PerIP())
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})
		r.Group(func(r chi.Router) {
			protected(r)
			r.Delete("/", h.DeleteUser)
			r.Patch("/password", h.ChangePassword)
		})
	})

	r.Route("/messages", func(r chi.Router) {
		protected(r)
		r.Get("/", h.ListMessages)
		r.Post("/new", h.SendMessage)
		r.Delete("/", h.DeleteMessages)
	})

	return r
}
