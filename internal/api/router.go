package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// history may be nil, in which case GET /libraries/history answers 404.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(eng Engine, history History, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(eng, history)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Coordinate transforms.
	r.Route("/ecef", func(r chi.Router) {
		r.Post("/from-geodetic", h.FromGeodetic)
		r.Post("/to-geodetic", h.ToGeodetic)
		r.Post("/from-horizontal", h.FromHorizontal)
		r.Post("/to-horizontal", h.ToHorizontal)
	})

	// Geomagnetic field.
	r.Post("/field", h.Field)

	// Provisioning.
	r.Get("/libraries", h.Libraries)
	r.Post("/libraries/install", h.Install)
	r.Get("/libraries/history", h.History)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
