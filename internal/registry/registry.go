// Package registry tracks which client sockets are currently connected. One
// entry exists per (user, device); a reconnect kicks the previous socket.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is the socket surface the registry needs. The websocket client
// implements it; tests substitute a fake.
type Conn interface {
	// Emit sends a named event with a JSON payload.
	Emit(event string, data interface{}) error
	// Connected reports whether the underlying transport is still usable.
	Connected() bool
	Close() error
}

// Session is one live socket bound to a (user, device) pair.
type Session struct {
	UserID   uuid.UUID
	DeviceID string
	SocketID string
	Conn     Conn
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // userID:deviceID -> session
	log      *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

func key(userID uuid.UUID, deviceID string) string {
	return userID.String() + ":" + deviceID
}

// Connect installs the session. An existing entry for the same (user, device)
// is forcibly disconnected first, so the newest socket always wins.
func (r *Registry) Connect(sess *Session) {
	r.mu.Lock()
	old, exists := r.sessions[key(sess.UserID, sess.DeviceID)]
	r.sessions[key(sess.UserID, sess.DeviceID)] = sess
	r.mu.Unlock()

	if exists && old.SocketID != sess.SocketID {
		r.log.Info("kicking replaced socket",
			zap.String("user_id", sess.UserID.String()),
			zap.String("old_socket", old.SocketID),
			zap.String("new_socket", sess.SocketID))
		old.Conn.Close()
	}
}

// Disconnect removes the mapping only when the given socket still owns it. A
// stale disconnect from a socket that was already replaced is a no-op.
func (r *Registry) Disconnect(userID uuid.UUID, deviceID, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[key(userID, deviceID)]
	if !ok || current.SocketID != socketID {
		return
	}
	delete(r.sessions, key(userID, deviceID))
}

// Lookup returns the session for an exact (user, device) pair.
func (r *Registry) Lookup(userID uuid.UUID, deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[key(userID, deviceID)]
	return sess, ok
}

func (r *Registry) IsOnline(userID uuid.UUID, deviceID string) bool {
	sess, ok := r.Lookup(userID, deviceID)
	return ok && sess.Conn.Connected()
}

// AnySessionOf returns the user's session regardless of device. With the
// single-session rule there is at most one.
func (r *Registry) AnySessionOf(userID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.UserID == userID {
			return sess, true
		}
	}
	return nil, false
}

// CloseAll disconnects every socket; used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Conn.Close()
	}
}
