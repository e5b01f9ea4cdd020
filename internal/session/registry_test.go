package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nradhesh/code-sync/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestClientSendWithHook(t *testing.T) {
	client := NewClient("c1", nil)
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)

	client.Send(models.WSFrame{Type: "ping"})

	got := capture.list()
	if len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendWithoutConnDoesNotPanic(t *testing.T) {
	client := NewClient("c1", nil)
	client.Send(models.WSFrame{Type: "noop"})
	client.Close(websocket.CloseNormalClosure, "bye")
}

func TestClientSendWritesToConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.WSFrame, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err == nil {
			received <- frame
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	client := NewClient("c1", conn)
	client.Send(models.WSFrame{Type: "ping"})

	select {
	case frame := <-received:
		if frame.Type != "ping" {
			t.Fatalf("unexpected frame: %#v", frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected frame to be received")
	}
}

func TestRegistryBroadcastSkipsSender(t *testing.T) {
	reg := NewRegistry()

	c1 := NewClient("c1", nil)
	cap1 := newFrameCapture()
	c1.SetSendHook(cap1.hook)
	c2 := NewClient("c2", nil)
	cap2 := newFrameCapture()
	c2.SetSendHook(cap2.hook)
	sender := NewClient("c3", nil)
	sender.SetSendHook(func(models.WSFrame) { t.Fatal("sender should not receive broadcast") })

	for _, c := range []*Client{c1, c2, sender} {
		reg.Register(c)
		reg.Join("r1", c)
	}

	reg.Broadcast("r1", "c3", models.WSFrame{Type: "chat"})

	if got := cap1.list(); len(got) != 1 || got[0].Type != "chat" {
		t.Fatalf("client1 missing frame: %#v", got)
	}
	if got := cap2.list(); len(got) != 1 || got[0].Type != "chat" {
		t.Fatalf("client2 missing frame: %#v", got)
	}
}

func TestRegistryBroadcastIgnoresOtherRooms(t *testing.T) {
	reg := NewRegistry()

	other := NewClient("c9", nil)
	other.SetSendHook(func(models.WSFrame) { t.Fatal("other room should not receive broadcast") })
	reg.Register(other)
	reg.Join("r2", other)

	reg.Broadcast("r1", "none", models.WSFrame{Type: "chat"})
}

func TestRegistrySendUnknownTargetDropped(t *testing.T) {
	reg := NewRegistry()
	reg.Send("ghost", models.WSFrame{Type: "ping"})
}

func TestRegistryLeaveCounts(t *testing.T) {
	reg := NewRegistry()
	c1 := NewClient("c1", nil)
	c2 := NewClient("c2", nil)
	reg.Join("r1", c1)
	reg.Join("r1", c2)

	if left := reg.Leave("r1", "c1"); left != 1 {
		t.Fatalf("expected 1 remaining, got %d", left)
	}
	if left := reg.Leave("r1", "c2"); left != 0 {
		t.Fatalf("expected empty room, got %d", left)
	}
	if left := reg.Leave("r1", "c2"); left != 0 {
		t.Fatalf("leave on empty room should be 0, got %d", left)
	}
}

func TestRegistryCloseAllClearsState(t *testing.T) {
	reg := NewRegistry()
	c1 := NewClient("c1", nil)
	reg.Register(c1)
	reg.Join("r1", c1)

	reg.CloseAll("shutdown")

	if _, ok := reg.Get("c1"); ok {
		t.Fatalf("expected client to be gone after CloseAll")
	}
}
