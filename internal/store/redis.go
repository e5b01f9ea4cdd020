package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nradhesh/code-sync/internal/models"
)

// RedisStore persists sessions in Redis so multiple relay instances
// can share one directory. Session records live as JSON blobs; join
// order is kept in per-room and global sorted sets scored by a
// monotonic sequence counter.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

const (
	seqKey   = "sessions:seq"
	indexKey = "sessions:index"
)

func sessionKey(connectionID string) string { return "session:" + connectionID }
func roomKey(roomID string) string          { return "room:" + roomID + ":members" }

func (r *RedisStore) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	members, err := r.ListRoom(ctx, s.RoomID)
	if err != nil {
		return nil, err
	}
	for _, existing := range members {
		if existing.Username == s.Username && existing.Status != models.StatusOffline {
			return nil, ErrDuplicateUsername
		}
	}

	seq, err := r.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate join sequence: %w", err)
	}

	now := time.Now().UTC()
	stored := *s
	stored.CreatedAt, stored.UpdatedAt = now, now
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(stored.ConnectionID), data, 0)
	pipe.ZAdd(ctx, roomKey(stored.RoomID), redis.Z{Score: float64(seq), Member: stored.ConnectionID})
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(seq), Member: stored.ConnectionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	out := stored
	return &out, nil
}

func (r *RedisStore) GetByConnection(ctx context.Context, connectionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(connectionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) ListRoom(ctx context.Context, roomID string) ([]models.Session, error) {
	return r.listIndex(ctx, roomKey(roomID))
}

func (r *RedisStore) ListAll(ctx context.Context) ([]models.Session, error) {
	return r.listIndex(ctx, indexKey)
}

func (r *RedisStore) listIndex(ctx context.Context, key string) ([]models.Session, error) {
	ids, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []models.Session
	for _, id := range ids {
		s, err := r.GetByConnection(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			// index entry outlived its record; repair lazily
			r.client.ZRem(ctx, key, id)
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *RedisStore) Update(ctx context.Context, connectionID string, upd SessionUpdate) (*models.Session, error) {
	s, err := r.GetByConnection(ctx, connectionID)
	if err != nil || s == nil {
		return nil, err
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.Typing != nil {
		s.Typing = *upd.Typing
	}
	if upd.CursorPosition != nil {
		s.CursorPosition = *upd.CursorPosition
	}
	if upd.CurrentFile != nil {
		s.CurrentFile = upd.CurrentFile
	}
	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(connectionID), data, 0).Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, connectionID string) (*models.Session, error) {
	s, err := r.GetByConnection(ctx, connectionID)
	if err != nil || s == nil {
		return nil, err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(connectionID))
	pipe.ZRem(ctx, roomKey(s.RoomID), connectionID)
	pipe.ZRem(ctx, indexKey, connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
