// Package server assembles the HTTP router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/controller"
	"github.com/unclebandit/newsletter-service/internal/handler"
	"github.com/unclebandit/newsletter-service/internal/httputil"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handlers struct {
	Webhook     *handler.WebhookHandler
	Stats       *handler.StatsHandler
	Newsletters *controller.NewsletterController
	Dispatch    *controller.DispatchController
	Settings    *controller.SettingsController
	DB          Pinger
}

// NewRouter wires every route. The webhook sits behind basic auth when
// credentials are configured; the admin routes share the CORS policy.
func NewRouter(h Handlers, cfg config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthCheck(h.DB))

	r.Group(func(r chi.Router) {
		if cfg.Webhook.Username != "" {
			r.Use(middleware.BasicAuth("postmark", map[string]string{
				cfg.Webhook.Username: cfg.Webhook.Password,
			}))
		}
		r.Post("/webhooks/postmark", h.Webhook.HandlePostmark)
	})

	r.Get("/stats", h.Stats.GetDashboard)
	r.Get("/customers/{id}/stats", h.Stats.GetCustomerStats)
	r.Get("/subscribers", h.Stats.ListSubscribers)

	r.Route("/newsletters", func(r chi.Router) {
		r.Post("/", h.Newsletters.CreateNewsletter)
		r.Get("/", h.Newsletters.ListNewsletters)
		r.Get("/{id}", h.Newsletters.GetNewsletterDetails)
		r.Post("/{id}/send", h.Newsletters.SendNewsletter)
	})

	r.Get("/dispatch", h.Dispatch.GetStatus)
	r.Post("/dispatch/cancel", h.Dispatch.Cancel)

	r.Post("/settings/test-connection", h.Settings.TestConnection)
	r.Post("/settings/test-email", h.Settings.SendTestEmail)

	return r
}

func healthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				httputil.Error(w, http.StatusServiceUnavailable, "unhealthy", "database unreachable")
				return
			}
		}
		httputil.OK(w, map[string]string{"status": "ok"})
	}
}
