package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/support-hitl/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/support-hitl/internal/http/middleware"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	Conversations *handlers.ConversationsHandler
	Approvals     *handlers.ApprovalsHandler
	Flows         *handlers.FlowsHandler
	Health        http.Handler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ReviewerJWTSecret enables bearer auth on every non-public route. Empty disables it (local dev).
	ReviewerJWTSecret string

	// FlowLimiter throttles /flows per reviewer. Optional.
	FlowLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(private chi.Router) {
		if cfg.ReviewerJWTSecret != "" {
			private.Use(httpmiddleware.ReviewerJWT(cfg.ReviewerJWTSecret))
		}

		if h := cfg.Conversations; h != nil {
			private.Route("/conversations/{id}", func(r chi.Router) {
				r.Get("/context", h.GetContext)
				r.Get("/messages", h.RecentMessages)
				r.Post("/messages", h.AppendMessage)
				r.Get("/summary", h.Summary)
				r.Post("/handoff", h.DecideHandoff)
			})
			private.Route("/handoff", func(r chi.Router) {
				r.Get("/report", h.Report)
				r.Get("/recent", h.Recent)
				r.Post("/outcomes", h.MarkOutcome)
			})
			private.Get("/agents", h.Agents)
		}

		if h := cfg.Approvals; h != nil {
			private.Route("/approvals", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/submit", h.Submit)
					r.Post("/approve", h.Approve)
					r.Post("/reject", h.Reject)
					r.Post("/request-changes", h.RequestChanges)
					r.Post("/validate", h.Validate)
				})
			})
		}

		if h := cfg.Flows; h != nil {
			private.Route("/flows", func(r chi.Router) {
				if cfg.FlowLimiter != nil {
					r.Use(cfg.FlowLimiter.RateLimit)
				}
				r.Post("/draft", h.Draft)
				r.Post("/approve", h.Approve)
				r.Post("/reject", h.Reject)
				r.Post("/full", h.Full)
			})
		}
	})

	return r
}
