package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nradhesh/code-sync/internal/models"
)

// writeTimeout bounds every socket write so a stalled peer cannot hold
// the client's write mutex forever.
const writeTimeout = 10 * time.Second

// Client wraps one live websocket connection. Writes are serialized by
// a mutex since broadcasts and direct replies come from different
// goroutines.
type Client struct {
	ID   string
	Conn *websocket.Conn
	mu   sync.Mutex
	hook func(models.WSFrame)
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{ID: id, Conn: conn}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send delivers one frame to the client. Delivery is fire-and-forget:
// a write error or a nil connection just drops the frame.
func (c *Client) Send(frame models.WSFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hook != nil {
		c.hook(frame)
		return
	}
	if c.Conn == nil {
		return
	}
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.Conn.WriteJSON(frame)
}

// Close sends a close control frame and closes the connection.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.Conn.WriteMessage(websocket.CloseMessage, msg)
	_ = c.Conn.Close()
}
