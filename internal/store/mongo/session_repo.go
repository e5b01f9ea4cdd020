package mongo

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nradhesh/code-sync/internal/models"
	"github.com/nradhesh/code-sync/internal/store"
)

// Repo wraps the sessions collection and implements store.Store.
type Repo struct{ col *mongo.Collection }

// NewSessionRepo connects to the sessions collection and ensures an
// index on roomId for membership lookups.
func NewSessionRepo(c *Client) (*Repo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}

	colName := os.Getenv("SESSIONS_COLLECTION")
	if colName == "" {
		colName = "sessions"
	}

	col := db.Collection(colName)
	r := &Repo{col: col}

	_, _ = r.col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}},
	})

	return r, nil
}

func (r *Repo) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	err := r.col.FindOne(ctx, bson.M{
		"roomId":   s.RoomID,
		"username": s.Username,
		"status":   bson.M{"$ne": models.StatusOffline},
	}).Err()
	if err == nil {
		return nil, store.ErrDuplicateUsername
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *s
	stored.CreatedAt, stored.UpdatedAt = now, now
	if _, err := r.col.InsertOne(ctx, &stored); err != nil {
		return nil, err
	}
	out := stored
	return &out, nil
}

func (r *Repo) GetByConnection(ctx context.Context, connectionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"connectionId": connectionID}).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) ListRoom(ctx context.Context, roomID string) ([]models.Session, error) {
	return r.list(ctx, bson.M{"roomId": roomID})
}

func (r *Repo) ListAll(ctx context.Context) ([]models.Session, error) {
	return r.list(ctx, bson.M{})
}

func (r *Repo) list(ctx context.Context, filter bson.M) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, connectionID string, upd store.SessionUpdate) (*models.Session, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.Typing != nil {
		set["typing"] = *upd.Typing
	}
	if upd.CursorPosition != nil {
		set["cursorPosition"] = *upd.CursorPosition
	}
	if upd.CurrentFile != nil {
		set["currentFile"] = *upd.CurrentFile
	}

	var updated models.Session
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.col.FindOneAndUpdate(ctx, bson.M{"connectionId": connectionID}, bson.M{"$set": set}, opts).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *Repo) Delete(ctx context.Context, connectionID string) (*models.Session, error) {
	var deleted models.Session
	err := r.col.FindOneAndDelete(ctx, bson.M{"connectionId": connectionID}).Decode(&deleted)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}
