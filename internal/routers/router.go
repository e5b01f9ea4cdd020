package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nradhesh/code-sync/internal/api"
	"github.com/nradhesh/code-sync/internal/relay"
	"github.com/nradhesh/code-sync/internal/session"
)

func New(log *zap.Logger, rel *relay.Relay, reg *session.Registry) http.Handler {
	h := api.NewHandlers(log, rel, reg)
	r := chi.NewRouter()

	// REST only; the websocket endpoint is long-lived and must not
	// carry a request timeout
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/v1/healthz", h.Health)

		r.Get("/active-users", h.ActiveUsers)
		r.Get("/api/v1/sessions", h.ListSessions)
		r.Get("/api/v1/sessions/{connectionId}", h.GetSession)
		r.Delete("/api/v1/sessions/{connectionId}", h.DeleteSession)
		r.Get("/api/v1/rooms/{roomId}/members", h.RoomMembers)
	})

	r.Get("/ws", h.WS)

	return r
}
