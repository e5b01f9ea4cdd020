package relay

import (
	"context"
	"encoding/json"

	"github.com/nradhesh/code-sync/internal/models"
	"github.com/nradhesh/code-sync/internal/session"
)

// Scope selects which connections receive an outbound frame.
type Scope int

const (
	// ScopeSender delivers to the sending connection only.
	ScopeSender Scope = iota
	// ScopeRoomExceptSender delivers to every room member but the sender.
	ScopeRoomExceptSender
	// ScopeTarget delivers to one explicitly named connection.
	ScopeTarget
)

// Outbound is one frame to deliver plus the scope resolving its
// targets. Handlers return these; the registry performs the sends.
type Outbound struct {
	Scope  Scope
	RoomID string // set for ScopeRoomExceptSender
	Target string // set for ScopeTarget
	Frame  models.WSFrame
}

type handlerFunc func(r *Relay, ctx context.Context, c *session.Client, data any) []Outbound

// handlers is the fixed dispatch table from event kind to handler.
// Structural and drawing kinds share the pure room-relay handler; the
// relay never looks inside their payloads.
var handlers = map[models.EventKind]handlerFunc{
	models.EventJoinRequest: (*Relay).join,

	models.EventTypingStart: (*Relay).typingStart,
	models.EventTypingPause: (*Relay).typingPause,
	models.EventUserOnline: func(r *Relay, ctx context.Context, _ *session.Client, data any) []Outbound {
		return r.setStatus(ctx, models.EventUserOnline, models.StatusOnline, data)
	},
	models.EventUserOffline: func(r *Relay, ctx context.Context, _ *session.Client, data any) []Outbound {
		return r.setStatus(ctx, models.EventUserOffline, models.StatusOffline, data)
	},

	models.EventSendMessage: (*Relay).chat,

	models.EventDirectoryCreated: relayKind(models.EventDirectoryCreated),
	models.EventDirectoryUpdated: relayKind(models.EventDirectoryUpdated),
	models.EventDirectoryRenamed: relayKind(models.EventDirectoryRenamed),
	models.EventDirectoryDeleted: relayKind(models.EventDirectoryDeleted),
	models.EventFileCreated:      relayKind(models.EventFileCreated),
	models.EventFileUpdated:      relayKind(models.EventFileUpdated),
	models.EventFileRenamed:      relayKind(models.EventFileRenamed),
	models.EventFileDeleted:      relayKind(models.EventFileDeleted),
	models.EventDrawingUpdate:    relayKind(models.EventDrawingUpdate),

	models.EventRequestDrawing:    (*Relay).requestDrawing,
	models.EventSyncDrawing:       (*Relay).syncDrawing,
	models.EventSyncFileStructure: (*Relay).syncFileStructure,
}

func relayKind(kind models.EventKind) handlerFunc {
	return func(r *Relay, ctx context.Context, c *session.Client, data any) []Outbound {
		return r.relayToRoom(ctx, c, kind, data)
	}
}

// decode re-maps a frame's loosely typed data into a payload struct.
func decode(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
