// Package router assembles the HTTP surface: public webhook and health
// endpoints, the authenticated send API, and the admin session panel.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anonzap/anonzap-backend/internal/http/handlers"
	httpmiddleware "github.com/anonzap/anonzap-backend/internal/http/middleware"
	"github.com/anonzap/anonzap-backend/internal/notify"
	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	Webhook         *handlers.WebhookHandler
	Messages        *handlers.MessagesHandler
	Session         *handlers.SessionHandler
	Health          *handlers.HealthHandler
	ReplyHub        *notify.ReplyHub
	MetricsHandler  http.Handler
	AdminAuthSecret string

	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks, health, metrics.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.HandleHealth)
		}
		if cfg.Webhook != nil {
			public.Post("/webhooks/channel/inbound", cfg.Webhook.HandleInbound)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// User-facing API.
	if cfg.Messages != nil {
		r.Route("/api", func(api chi.Router) {
			api.Post("/messages", cfg.Messages.HandleSend)
			if cfg.ReplyHub != nil {
				api.Get("/replies/stream", cfg.ReplyHub.HandleWebSocket)
			}
		})
	}

	// Admin panel, JWT-gated.
	if cfg.Session != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/session", func(session chi.Router) {
				session.Get("/status", cfg.Session.HandleStatus)
				session.Get("/logs", cfg.Session.HandleLogs)
				session.Get("/qr", cfg.Session.HandleQR)
				session.Get("/stream", cfg.Session.HandleStream)
				session.Post("/reconnect", cfg.Session.HandleReconnect)
				session.Post("/logout", cfg.Session.HandleLogout)
			})
		})
	}

	return r
}
