package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type RouterDeps struct {
	Handler *Handler

	RateLimitEnabled bool
	RateLimit        int
	RateWindow       time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	r.Use(SecurityHeaders)

	r.Get("/healthz", d.Handler.Healthz)

	commands := func(r chi.Router) {
		if d.RateLimitEnabled {
			r.Use(httprate.LimitByIP(d.RateLimit, d.RateWindow))
		}

		r.Post("/commands/{name}", d.Handler.Submit)
		r.Get("/commands/{commandID}", d.Handler.GetCommand)
	}

	// The command API lives at the root; /api/v1 stays as an alias for
	// callers that version their base URL.
	r.Group(commands)
	r.Route("/api/v1", commands)

	return r
}
