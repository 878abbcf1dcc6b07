package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ankisync/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// deck is used when a request names none.
// events, if non-nil, receives sync.completed and sync.failed and is
// mounted at GET /events inside the auth group.
func NewRouter(svc Service, deck string, authEnabled bool, token string, events EventSink) chi.Router {
	h := NewHandler(svc, deck, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/plan", h.Plan)
	r.Post("/sync", h.Sync)
	r.Post("/prune", h.Prune)

	r.Get("/history", h.History)
	r.Get("/history/{id}", h.RunDetail)

	r.Get("/preview", h.Preview)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}

// EventSink publishes run events and streams them to clients.
type EventSink interface {
	http.Handler
	Publish(event sse.Event)
}
