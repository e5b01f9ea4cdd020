package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nradhesh/code-sync/internal/metrics"
	"github.com/nradhesh/code-sync/internal/models"
	"github.com/nradhesh/code-sync/internal/relay"
	"github.com/nradhesh/code-sync/internal/session"
)

type Handlers struct {
	log   *zap.Logger
	relay *relay.Relay
	reg   *session.Registry
}

func NewHandlers(log *zap.Logger, rel *relay.Relay, reg *session.Registry) *Handlers {
	return &Handlers{log: log, relay: rel, reg: reg}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// WS upgrades the connection and runs its read loop. Frames are
// handled synchronously so events from one connection are processed in
// arrival order; different connections run concurrently.
func (h *Handlers) WS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := session.NewClient(uuid.New().String(), conn)
	h.reg.Register(client)
	metrics.ActiveConnections.Inc()
	defer func() {
		// the request context is already cancelled when the socket dies
		h.relay.Disconnect(context.Background(), client.ID)
		h.reg.Unregister(client.ID)
		metrics.ActiveConnections.Dec()
	}()

	// tell the client its connection id; joins and point-to-point
	// events reference it
	client.Send(models.WSFrame{Type: models.EventConnected, Data: models.ConnectionRef{ConnectionID: client.ID}})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read ended", zap.String("connection", client.ID), zap.Error(err))
			}
			return
		}
		var frame models.WSFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Type == "" {
			// malformed frames are dropped without a reply
			continue
		}
		h.relay.HandleFrame(r.Context(), client, frame)
	}
}

// ActiveUsers lists every live session across all rooms.
func (h *Handlers) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.relay.Sessions(r.Context())
	if err != nil {
		h.log.Error("listing sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch active users")
		return
	}
	writeJSON(w, map[string]any{"users": emptyIfNil(sessions)})
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.relay.Sessions(r.Context())
	if err != nil {
		h.log.Error("listing sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
		return
	}
	writeJSON(w, map[string]any{"success": true, "count": len(sessions), "data": emptyIfNil(sessions)})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionId")
	s, err := h.relay.Session(r.Context(), id)
	if err != nil {
		h.log.Error("session lookup failed", zap.String("connection", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch session")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": s})
}

// DeleteSession force-disconnects a connection, notifying its room the
// same way a network drop would.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionId")
	s := h.relay.Evict(r.Context(), id)
	if s == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, map[string]any{"success": true, "data": s})
}

func (h *Handlers) RoomMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	members, err := h.relay.Members(r.Context(), roomID)
	if err != nil {
		h.log.Error("membership query failed", zap.String("room", roomID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch room members")
		return
	}
	writeJSON(w, map[string]any{"success": true, "count": len(members), "data": emptyIfNil(members)})
}

func emptyIfNil(s []models.Session) []models.Session {
	if s == nil {
		return []models.Session{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
