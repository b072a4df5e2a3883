package telemetry

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	userIDKey    = "telemetry.user_id"
	sessionIDKey = "telemetry.session_id"
)

// identity holds the stable anonymous user id, the per-session id, and the
// monotonic sequence counter. The user id lives in durable storage and is
// generated once; the session id lives in session-scoped storage and is
// regenerated whenever that scope starts empty.
type identity struct {
	userID    string
	sessionID string
	seq       atomic.Uint64
}

func newIdentity(durable, session Storage, logger *zap.Logger) *identity {
	return &identity{
		userID:    loadOrCreateID(durable, userIDKey, logger),
		sessionID: loadOrCreateID(session, sessionIDKey, logger),
	}
}

// loadOrCreateID reads an identifier from storage, minting and persisting a
// fresh one when absent. Storage failures fall back to an unpersisted id.
func loadOrCreateID(storage Storage, key string, logger *zap.Logger) string {
	data, err := storage.Load(key)
	if err != nil {
		logger.Warn("Failed to load identifier", zap.String("key", key), zap.Error(err))
	}
	if len(data) > 0 {
		return string(data)
	}

	id := uuid.NewString()
	if err := storage.Store(key, []byte(id)); err != nil {
		logger.Warn("Failed to persist identifier", zap.String("key", key), zap.Error(err))
	}
	return id
}

// Next assigns the next sequence number. Values are strictly increasing
// within a session and never reused, even across retried batches.
func (id *identity) Next() uint64 {
	return id.seq.Add(1)
}
