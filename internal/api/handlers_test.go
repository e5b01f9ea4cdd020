package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nradhesh/code-sync/internal/models"
	"github.com/nradhesh/code-sync/internal/relay"
	"github.com/nradhesh/code-sync/internal/session"
	"github.com/nradhesh/code-sync/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	st := store.NewMemoryStore()
	reg := session.NewRegistry()
	rel := relay.New(st, reg, zap.NewNop())
	h := NewHandlers(zap.NewNop(), rel, reg)

	r := chi.NewRouter()
	r.Get("/api/v1/healthz", h.Health)
	r.Get("/active-users", h.ActiveUsers)
	r.Get("/api/v1/sessions", h.ListSessions)
	r.Get("/api/v1/sessions/{connectionId}", h.GetSession)
	r.Delete("/api/v1/sessions/{connectionId}", h.DeleteSession)
	r.Get("/api/v1/rooms/{roomId}/members", h.RoomMembers)
	r.Get("/ws", h.WS)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.WSFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame models.WSFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// dataAs re-decodes a frame's payload into a typed struct.
func dataAs(t *testing.T, frame models.WSFrame, out any) {
	t.Helper()
	b, err := json.Marshal(frame.Data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, username string) models.JoinAccepted {
	t.Helper()
	err := conn.WriteJSON(models.WSFrame{
		Type: models.EventJoinRequest,
		Data: models.JoinRequest{RoomID: roomID, Username: username},
	})
	if err != nil {
		t.Fatalf("write join: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != models.EventJoinAccepted {
		t.Fatalf("expected join-accepted, got %#v", frame)
	}
	var accepted models.JoinAccepted
	dataAs(t, frame, &accepted)
	return accepted
}

func connect(t *testing.T, server *httptest.Server) (*websocket.Conn, string) {
	conn := dialWS(t, server)
	hello := readFrame(t, conn)
	if hello.Type != models.EventConnected {
		t.Fatalf("expected connected frame, got %#v", hello)
	}
	var ref models.ConnectionRef
	dataAs(t, hello, &ref)
	if ref.ConnectionID == "" {
		t.Fatalf("expected a connection id, got %#v", hello)
	}
	return conn, ref.ConnectionID
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	server := newTestServer(t)

	c1, _ := connect(t, server)
	accepted := joinRoom(t, c1, "R1", "alice")
	if len(accepted.Members) != 1 || accepted.Members[0].Username != "alice" {
		t.Fatalf("expected members [alice], got %#v", accepted.Members)
	}

	c2, _ := connect(t, server)
	accepted = joinRoom(t, c2, "R1", "bob")
	if len(accepted.Members) != 2 {
		t.Fatalf("expected members [alice bob], got %#v", accepted.Members)
	}

	frame := readFrame(t, c1)
	if frame.Type != models.EventUserJoined {
		t.Fatalf("expected user-joined at alice, got %#v", frame)
	}
	var ev models.SessionEvent
	dataAs(t, frame, &ev)
	if ev.Session.Username != "bob" {
		t.Fatalf("expected bob joined, got %#v", ev.Session)
	}

	// chat goes to peers only
	if err := c2.WriteJSON(models.WSFrame{Type: models.EventSendMessage, Data: map[string]any{"message": "hi"}}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	frame = readFrame(t, c1)
	if frame.Type != models.EventReceiveMessage {
		t.Fatalf("expected receive-message, got %#v", frame)
	}

	// disconnect notifies the room and removes the session
	c2.Close()
	frame = readFrame(t, c1)
	if frame.Type != models.EventUserDisconnected {
		t.Fatalf("expected user-disconnected, got %#v", frame)
	}
	dataAs(t, frame, &ev)
	if ev.Session.Username != "bob" {
		t.Fatalf("expected bob disconnected, got %#v", ev.Session)
	}

	resp, err := http.Get(server.URL + "/api/v1/rooms/R1/members")
	if err != nil {
		t.Fatalf("members request failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Count int              `json:"count"`
		Data  []models.Session `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode members: %v", err)
	}
	if body.Count != 1 || body.Data[0].Username != "alice" {
		t.Fatalf("expected only alice left, got %#v", body)
	}
}

func TestWebSocketDuplicateUsername(t *testing.T) {
	server := newTestServer(t)

	c1, _ := connect(t, server)
	joinRoom(t, c1, "R1", "alice")

	c2, _ := connect(t, server)
	if err := c2.WriteJSON(models.WSFrame{
		Type: models.EventJoinRequest,
		Data: models.JoinRequest{RoomID: "R1", Username: "alice"},
	}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	frame := readFrame(t, c2)
	if frame.Type != models.EventUsernameExists {
		t.Fatalf("expected username-exists, got %#v", frame)
	}

	// the connection stays open; retry with a different name succeeds
	accepted := joinRoom(t, c2, "R1", "bob")
	if accepted.Session.Username != "bob" {
		t.Fatalf("expected bob accepted, got %#v", accepted.Session)
	}
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	server := newTestServer(t)

	c1, _ := connect(t, server)
	if err := c1.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	// the connection must survive malformed input
	accepted := joinRoom(t, c1, "R1", "alice")
	if accepted.Session.Username != "alice" {
		t.Fatalf("expected join to succeed after garbage frame, got %#v", accepted)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/api/v1/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("sessions request failed: %v", err)
	}
	var listing struct {
		Success bool             `json:"success"`
		Count   int              `json:"count"`
		Data    []models.Session `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	resp.Body.Close()
	if !listing.Success || listing.Count != 0 {
		t.Fatalf("expected empty listing, got %#v", listing)
	}

	resp, err = http.Get(server.URL + "/api/v1/sessions/unknown")
	if err != nil {
		t.Fatalf("session request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	c1, id1 := connect(t, server)
	joinRoom(t, c1, "R1", "alice")

	resp, err = http.Get(server.URL + "/active-users")
	if err != nil {
		t.Fatalf("active-users request failed: %v", err)
	}
	var users struct {
		Users []models.Session `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode active-users: %v", err)
	}
	resp.Body.Close()
	if len(users.Users) != 1 || users.Users[0].Username != "alice" {
		t.Fatalf("expected alice active, got %#v", users)
	}

	resp, err = http.Get(server.URL + "/api/v1/sessions/" + id1)
	if err != nil {
		t.Fatalf("session request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDeleteSessionEvictsConnection(t *testing.T) {
	server := newTestServer(t)

	c1, _ := connect(t, server)
	joinRoom(t, c1, "R1", "alice")
	c2, id2 := connect(t, server)
	joinRoom(t, c2, "R1", "bob")
	readFrame(t, c1) // alice sees bob join

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, id2), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	frame := readFrame(t, c1)
	if frame.Type != models.EventUserDisconnected {
		t.Fatalf("expected user-disconnected at alice, got %#v", frame)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}
