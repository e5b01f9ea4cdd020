package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nradhesh/code-sync/internal/metrics"
	"github.com/nradhesh/code-sync/internal/models"
	"github.com/nradhesh/code-sync/internal/session"
	"github.com/nradhesh/code-sync/internal/store"
)

// DefaultStoreTimeout bounds every session store call so a slow store
// cannot stall a handler indefinitely.
const DefaultStoreTimeout = 5 * time.Second

// Relay owns the join/leave lifecycle, presence updates and event
// fan-out for all rooms. It never interprets structural, chat or
// drawing payloads: it forwards the last payload it received, verbatim,
// to the event's scope. Concurrent-edit merging is the client's
// problem.
type Relay struct {
	store        store.Store
	reg          *session.Registry
	log          *zap.Logger
	storeTimeout time.Duration

	// join/leave check-then-act is serialized per room so two
	// simultaneous joins with the same username cannot both pass the
	// collision check. Presence updates stay unserialized.
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	leaving map[string]struct{} // disconnects in flight, by connection id
}

func New(st store.Store, reg *session.Registry, log *zap.Logger) *Relay {
	return &Relay{
		store:        st,
		reg:          reg,
		log:          log,
		storeTimeout: DefaultStoreTimeout,
		locks:        make(map[string]*sync.Mutex),
		leaving:      make(map[string]struct{}),
	}
}

func (r *Relay) roomLock(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomID] = l
	}
	return l
}

// dropRoomLock prunes the room's mutex once its last member leaves, so
// the lock table does not grow with every room id ever seen.
func (r *Relay) dropRoomLock(roomID string) {
	r.mu.Lock()
	delete(r.locks, roomID)
	r.mu.Unlock()
}

// claimLeave marks a disconnect in flight. The session record outlives
// the departure notification, so two concurrent disconnects for the
// same connection can both find it; only the claim holder proceeds.
func (r *Relay) claimLeave(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leaving[connectionID]; ok {
		return false
	}
	r.leaving[connectionID] = struct{}{}
	return true
}

func (r *Relay) releaseLeave(connectionID string) {
	r.mu.Lock()
	delete(r.leaving, connectionID)
	r.mu.Unlock()
}

func (r *Relay) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.storeTimeout)
}

// HandleFrame dispatches one inbound frame. Unknown kinds and frames
// with missing required fields are dropped without a reply.
func (r *Relay) HandleFrame(ctx context.Context, c *session.Client, frame models.WSFrame) {
	h, ok := handlers[frame.Type]
	if !ok {
		r.log.Debug("dropping unknown event", zap.String("kind", string(frame.Type)), zap.String("connection", c.ID))
		return
	}
	outs := h(r, ctx, c, frame.Data)
	for _, o := range outs {
		metrics.EventsRelayed.WithLabelValues(string(o.Frame.Type)).Inc()
	}
	r.deliver(c.ID, outs)
}

func (r *Relay) deliver(senderID string, outs []Outbound) {
	for _, o := range outs {
		switch o.Scope {
		case ScopeSender:
			r.reg.Send(senderID, o.Frame)
		case ScopeRoomExceptSender:
			r.reg.Broadcast(o.RoomID, senderID, o.Frame)
		case ScopeTarget:
			r.reg.Send(o.Target, o.Frame)
		}
	}
}

func (r *Relay) join(ctx context.Context, c *session.Client, data any) []Outbound {
	var req models.JoinRequest
	if err := decode(data, &req); err != nil || req.RoomID == "" || req.Username == "" {
		r.log.Debug("dropping malformed join request", zap.String("connection", c.ID))
		return nil
	}

	lock := r.roomLock(req.RoomID)
	lock.Lock()
	defer lock.Unlock()

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()

	// a connection holds at most one session; rejoining requires a
	// disconnect first
	if existing, err := r.store.GetByConnection(sctx, c.ID); err != nil || existing != nil {
		if err != nil {
			metrics.StoreFailures.Inc()
			r.log.Error("join lookup failed", zap.String("connection", c.ID), zap.Error(err))
		}
		return nil
	}

	created, err := r.store.Create(sctx, &models.Session{
		ConnectionID: c.ID,
		Username:     req.Username,
		RoomID:       req.RoomID,
		Status:       models.StatusOnline,
	})
	if errors.Is(err, store.ErrDuplicateUsername) {
		metrics.JoinRejections.Inc()
		r.log.Info("join rejected, username taken",
			zap.String("room", req.RoomID), zap.String("username", req.Username))
		return []Outbound{{Scope: ScopeSender, Frame: models.WSFrame{Type: models.EventUsernameExists}}}
	}
	if err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("join failed, session store error",
			zap.String("room", req.RoomID), zap.Error(err))
		return []Outbound{{Scope: ScopeSender, Frame: models.WSFrame{Type: models.EventJoinFailed}}}
	}

	// broadcast group and directory change together, under the room lock
	r.reg.Join(req.RoomID, c)

	members, err := r.store.ListRoom(sctx, req.RoomID)
	if err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("join failed, membership listing error",
			zap.String("room", req.RoomID), zap.Error(err))
		_, _ = r.store.Delete(sctx, c.ID)
		if r.reg.Leave(req.RoomID, c.ID) == 0 {
			r.dropRoomLock(req.RoomID)
		}
		return []Outbound{{Scope: ScopeSender, Frame: models.WSFrame{Type: models.EventJoinFailed}}}
	}

	metrics.JoinsTotal.Inc()
	r.log.Info("user joined room",
		zap.String("room", req.RoomID), zap.String("username", req.Username), zap.String("connection", c.ID))

	return []Outbound{
		{Scope: ScopeRoomExceptSender, RoomID: req.RoomID,
			Frame: models.WSFrame{Type: models.EventUserJoined, Data: models.SessionEvent{Session: *created}}},
		{Scope: ScopeSender,
			Frame: models.WSFrame{Type: models.EventJoinAccepted, Data: models.JoinAccepted{Session: *created, Members: members}}},
	}
}

// Disconnect tears down the session for a closed connection and
// notifies its room. Calling it for a connection that never joined, or
// calling it twice, is a no-op. It returns the removed session, if any.
func (r *Relay) Disconnect(ctx context.Context, connectionID string) *models.Session {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()

	s, err := r.store.GetByConnection(sctx, connectionID)
	if err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("disconnect lookup failed", zap.String("connection", connectionID), zap.Error(err))
		return nil
	}
	if s == nil {
		return nil
	}

	lock := r.roomLock(s.RoomID)
	lock.Lock()

	// re-check under the lock; a concurrent disconnect may have won
	s, err = r.store.GetByConnection(sctx, connectionID)
	if err != nil || s == nil || !r.claimLeave(connectionID) {
		lock.Unlock()
		return nil
	}

	// snapshot the recipients and update room membership under the
	// lock, but never write to a socket while holding it: one stalled
	// peer must not block every join and disconnect in the room
	peers := r.reg.Peers(s.RoomID, connectionID)
	if r.reg.Leave(s.RoomID, connectionID) == 0 {
		r.dropRoomLock(s.RoomID)
	}
	lock.Unlock()

	// notify before delete so a racing membership query still sees the
	// leaver; after the delete the record is gone for any later query
	frame := models.WSFrame{
		Type: models.EventUserDisconnected,
		Data: models.SessionEvent{Session: *s},
	}
	for _, p := range peers {
		p.Send(frame)
	}
	metrics.EventsRelayed.WithLabelValues(string(models.EventUserDisconnected)).Inc()

	if _, err := r.store.Delete(sctx, connectionID); err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("session delete failed", zap.String("connection", connectionID), zap.Error(err))
	}
	r.releaseLeave(connectionID)

	r.log.Info("user left room",
		zap.String("room", s.RoomID), zap.String("username", s.Username), zap.String("connection", connectionID))
	return s
}

// Evict force-disconnects a connection by id, tearing down its session
// and closing the live socket if it is on this instance.
func (r *Relay) Evict(ctx context.Context, connectionID string) *models.Session {
	s := r.Disconnect(ctx, connectionID)
	if c, ok := r.reg.Get(connectionID); ok {
		c.Close(websocket.CloseNormalClosure, "removed by server")
	}
	return s
}

func (r *Relay) typingStart(ctx context.Context, c *session.Client, data any) []Outbound {
	var req models.TypingStart
	if err := decode(data, &req); err != nil {
		return nil
	}
	typing := true
	updated := r.update(ctx, c.ID, store.SessionUpdate{Typing: &typing, CursorPosition: &req.CursorPosition})
	if updated == nil {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: updated.RoomID,
		Frame: models.WSFrame{Type: models.EventTypingStart, Data: models.SessionEvent{Session: *updated}}}}
}

func (r *Relay) typingPause(ctx context.Context, c *session.Client, _ any) []Outbound {
	typing := false
	updated := r.update(ctx, c.ID, store.SessionUpdate{Typing: &typing})
	if updated == nil {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: updated.RoomID,
		Frame: models.WSFrame{Type: models.EventTypingPause, Data: models.SessionEvent{Session: *updated}}}}
}

func (r *Relay) setStatus(ctx context.Context, kind models.EventKind, status models.Status, data any) []Outbound {
	var ref models.ConnectionRef
	if err := decode(data, &ref); err != nil || ref.ConnectionID == "" {
		return nil
	}
	updated := r.update(ctx, ref.ConnectionID, store.SessionUpdate{Status: &status})
	if updated == nil {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: updated.RoomID,
		Frame: models.WSFrame{Type: kind, Data: models.ConnectionRef{ConnectionID: ref.ConnectionID}}}}
}

// update persists a partial session update, swallowing failures:
// presence events are continuously re-sent by clients, so a lost one
// is recoverable. A nil result means the connection already left.
func (r *Relay) update(ctx context.Context, connectionID string, upd store.SessionUpdate) *models.Session {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	updated, err := r.store.Update(sctx, connectionID, upd)
	if err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("session update failed", zap.String("connection", connectionID), zap.Error(err))
		return nil
	}
	return updated
}

func (r *Relay) chat(ctx context.Context, c *session.Client, data any) []Outbound {
	var msg models.ChatMessage
	if err := decode(data, &msg); err != nil || msg.Message == nil {
		return nil
	}
	roomID := r.senderRoom(ctx, c.ID)
	if roomID == "" {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: roomID,
		Frame: models.WSFrame{Type: models.EventReceiveMessage, Data: data}}}
}

// relayToRoom forwards an opaque payload, unchanged, to the rest of
// the sender's room.
func (r *Relay) relayToRoom(ctx context.Context, c *session.Client, kind models.EventKind, data any) []Outbound {
	roomID := r.senderRoom(ctx, c.ID)
	if roomID == "" {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: roomID,
		Frame: models.WSFrame{Type: kind, Data: data}}}
}

func (r *Relay) requestDrawing(ctx context.Context, c *session.Client, _ any) []Outbound {
	roomID := r.senderRoom(ctx, c.ID)
	if roomID == "" {
		return nil
	}
	return []Outbound{{Scope: ScopeRoomExceptSender, RoomID: roomID,
		Frame: models.WSFrame{Type: models.EventRequestDrawing, Data: models.ConnectionRef{ConnectionID: c.ID}}}}
}

func (r *Relay) syncDrawing(ctx context.Context, c *session.Client, data any) []Outbound {
	var req models.SyncDrawing
	if err := decode(data, &req); err != nil || req.ConnectionID == "" {
		return nil
	}
	if r.senderRoom(ctx, c.ID) == "" {
		return nil
	}
	return []Outbound{{Scope: ScopeTarget, Target: req.ConnectionID,
		Frame: models.WSFrame{Type: models.EventSyncDrawing, Data: map[string]any{"drawingData": req.DrawingData}}}}
}

func (r *Relay) syncFileStructure(ctx context.Context, c *session.Client, data any) []Outbound {
	var req models.SyncFileStructure
	if err := decode(data, &req); err != nil || req.ConnectionID == "" {
		return nil
	}
	if r.senderRoom(ctx, c.ID) == "" {
		return nil
	}
	return []Outbound{{Scope: ScopeTarget, Target: req.ConnectionID,
		Frame: models.WSFrame{Type: models.EventSyncFileStructure, Data: map[string]any{
			"fileStructure": req.FileStructure,
			"openFiles":     req.OpenFiles,
			"activeFile":    req.ActiveFile,
		}}}}
}

// senderRoom resolves the sender's room id, or "" if the sender has no
// session (already disconnected; the event is silently dropped).
func (r *Relay) senderRoom(ctx context.Context, connectionID string) string {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	s, err := r.store.GetByConnection(sctx, connectionID)
	if err != nil {
		metrics.StoreFailures.Inc()
		r.log.Error("room lookup failed", zap.String("connection", connectionID), zap.Error(err))
		return ""
	}
	if s == nil {
		return ""
	}
	return s.RoomID
}

// Members is the uncached room membership snapshot, in join order.
func (r *Relay) Members(ctx context.Context, roomID string) ([]models.Session, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.ListRoom(sctx, roomID)
}

// Sessions lists every live session across all rooms.
func (r *Relay) Sessions(ctx context.Context) ([]models.Session, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.ListAll(sctx)
}

// Session looks up one session by connection id; nil means not found.
func (r *Relay) Session(ctx context.Context, connectionID string) (*models.Session, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.GetByConnection(sctx, connectionID)
}
