// Package api assembles the HTTP router for the propgate gateway.
package api

import (
	"net/http"

	"github.com/propgate/propgate/internal/api/handlers"
	"github.com/propgate/propgate/internal/api/middleware"
	"github.com/propgate/propgate/internal/origin"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all routes and middleware.
// CORS preflight is answered by the cors layer before any
// authorization runs, so OPTIONS never touches a credit.
func NewRouter(policy *origin.Policy, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(corsOptions(policy)))
	r.Use(middleware.BearerExtractor)

	r.Get("/health", h.Health)

	r.Post("/checkout", h.Checkout)
	r.Get("/grant", h.Grant)
	r.Post("/chat", h.Chat)
	r.Get("/chat/stream", h.ChatStream)

	return r
}

// corsOptions translates the origin policy into the cors layer's
// terms. Credentials are only allowed when a concrete origin is
// echoed back, never together with a wildcard.
func corsOptions(policy *origin.Policy) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}
	if policy.AllowAll() {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}
	opts.AllowOriginFunc = func(r *http.Request, o string) bool {
		return policy.Allowed(o)
	}
	opts.AllowCredentials = true
	return opts
}
