package models

import "time"

// Status is a session's connection status as seen by its room peers.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Session is the server-side record of one live connection's room
// membership and presence state. One session per connection id; within
// a room, usernames are unique among non-offline sessions.
type Session struct {
	ConnectionID   string    `json:"connectionId" bson:"connectionId"`
	Username       string    `json:"username" bson:"username"`
	RoomID         string    `json:"roomId" bson:"roomId"`
	Status         Status    `json:"status" bson:"status"`
	CursorPosition int       `json:"cursorPosition" bson:"cursorPosition"`
	Typing         bool      `json:"typing" bson:"typing"`
	CurrentFile    *string   `json:"currentFile" bson:"currentFile"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EventKind names one websocket event type. Wire values match the
// client protocol.
type EventKind string

const (
	EventConnected EventKind = "connected"

	EventJoinRequest      EventKind = "join-request"
	EventUsernameExists   EventKind = "username-exists"
	EventJoinAccepted     EventKind = "join-accepted"
	EventJoinFailed       EventKind = "join-failed"
	EventUserJoined       EventKind = "user-joined"
	EventUserDisconnected EventKind = "user-disconnected"

	EventUserOnline  EventKind = "user-online"
	EventUserOffline EventKind = "user-offline"
	EventTypingStart EventKind = "typing-start"
	EventTypingPause EventKind = "typing-pause"

	EventSyncFileStructure EventKind = "sync-file-structure"
	EventDirectoryCreated  EventKind = "directory-created"
	EventDirectoryUpdated  EventKind = "directory-updated"
	EventDirectoryRenamed  EventKind = "directory-renamed"
	EventDirectoryDeleted  EventKind = "directory-deleted"
	EventFileCreated       EventKind = "file-created"
	EventFileUpdated       EventKind = "file-updated"
	EventFileRenamed       EventKind = "file-renamed"
	EventFileDeleted       EventKind = "file-deleted"

	EventSendMessage    EventKind = "send-message"
	EventReceiveMessage EventKind = "receive-message"

	EventRequestDrawing EventKind = "request-drawing"
	EventSyncDrawing    EventKind = "sync-drawing"
	EventDrawingUpdate  EventKind = "drawing-update"
)

// WSFrame is the JSON envelope for every websocket message.
type WSFrame struct {
	Type EventKind `json:"type"`
	Data any       `json:"data,omitempty"`
}

type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type JoinAccepted struct {
	Session Session   `json:"session"`
	Members []Session `json:"members"`
}

type SessionEvent struct {
	Session Session `json:"session"`
}

type ConnectionRef struct {
	ConnectionID string `json:"connectionId"`
}

type TypingStart struct {
	CursorPosition int `json:"cursorPosition"`
}

type ChatMessage struct {
	Message any `json:"message"`
}

// SyncFileStructure carries a full file tree to one newly joined
// connection, never to the whole room.
type SyncFileStructure struct {
	FileStructure any    `json:"fileStructure"`
	OpenFiles     any    `json:"openFiles"`
	ActiveFile    any    `json:"activeFile"`
	ConnectionID  string `json:"connectionId"`
}

type SyncDrawing struct {
	DrawingData  any    `json:"drawingData"`
	ConnectionID string `json:"connectionId"`
}
