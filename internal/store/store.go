package store

import (
	"context"
	"errors"

	"github.com/nradhesh/code-sync/internal/models"
)

// ErrDuplicateUsername is returned by Create when a non-offline session
// already holds the same username in the target room.
var ErrDuplicateUsername = errors.New("username already taken in room")

// SessionUpdate is a partial update; nil fields are left untouched.
type SessionUpdate struct {
	Status         *models.Status
	Typing         *bool
	CursorPosition *int
	CurrentFile    *string
}

// Store is the session directory: the authoritative mapping from
// connection id to session record, with keyed lookups by room.
//
// Lookups, updates and deletes on a connection that already left
// return (nil, nil) rather than an error: disconnects legitimately
// race trailing in-flight events, so "already gone" is a no-op for
// every caller.
type Store interface {
	// Create inserts a new session. Fails with ErrDuplicateUsername if
	// a non-offline session with the same (roomId, username) exists.
	Create(ctx context.Context, s *models.Session) (*models.Session, error)

	// GetByConnection returns the session for a connection id, or nil.
	GetByConnection(ctx context.Context, connectionID string) (*models.Session, error)

	// ListRoom returns the room's sessions in join order.
	ListRoom(ctx context.Context, roomID string) ([]models.Session, error)

	// ListAll returns every live session in join order.
	ListAll(ctx context.Context) ([]models.Session, error)

	// Update applies a partial update and returns the refreshed record,
	// or nil if the connection already left.
	Update(ctx context.Context, connectionID string, upd SessionUpdate) (*models.Session, error)

	// Delete removes the session and returns the deleted record, or nil
	// if it was already gone.
	Delete(ctx context.Context, connectionID string) (*models.Session, error)
}
