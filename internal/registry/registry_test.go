package registry

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	connected bool
	events    []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true}
}

func (c *fakeConn) Emit(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func TestConnectAndLookup(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	conn := newFakeConn()

	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s1", Conn: conn})

	sess, ok := r.Lookup(userID, "d1")
	assert.True(t, ok)
	assert.Equal(t, "s1", sess.SocketID)
	assert.True(t, r.IsOnline(userID, "d1"))

	_, ok = r.Lookup(userID, "other")
	assert.False(t, ok)
}

func TestReconnectKicksOldSocket(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	oldConn := newFakeConn()
	newConn := newFakeConn()

	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s1", Conn: oldConn})
	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s2", Conn: newConn})

	assert.True(t, oldConn.closed)
	sess, ok := r.Lookup(userID, "d1")
	assert.True(t, ok)
	assert.Equal(t, "s2", sess.SocketID)
}

// A disconnect event from a socket that was already replaced must not evict
// the replacement.
func TestStaleDisconnectIgnored(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()

	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s1", Conn: newFakeConn()})
	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s2", Conn: newFakeConn()})

	r.Disconnect(userID, "d1", "s1")

	sess, ok := r.Lookup(userID, "d1")
	assert.True(t, ok)
	assert.Equal(t, "s2", sess.SocketID)

	r.Disconnect(userID, "d1", "s2")
	_, ok = r.Lookup(userID, "d1")
	assert.False(t, ok)
}

func TestAnySessionOf(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()

	_, ok := r.AnySessionOf(userID)
	assert.False(t, ok)

	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s1", Conn: newFakeConn()})

	sess, ok := r.AnySessionOf(userID)
	assert.True(t, ok)
	assert.Equal(t, "d1", sess.DeviceID)
}

func TestIsOnlineStaleConn(t *testing.T) {
	r := New(zap.NewNop())
	userID := uuid.New()
	conn := newFakeConn()

	r.Connect(&Session{UserID: userID, DeviceID: "d1", SocketID: "s1", Conn: conn})
	conn.connected = false

	assert.False(t, r.IsOnline(userID, "d1"))
	_, ok := r.Lookup(userID, "d1")
	assert.True(t, ok)
}

func TestCloseAll(t *testing.T) {
	r := New(zap.NewNop())
	c1, c2 := newFakeConn(), newFakeConn()

	r.Connect(&Session{UserID: uuid.New(), DeviceID: "d1", SocketID: "s1", Conn: c1})
	r.Connect(&Session{UserID: uuid.New(), DeviceID: "d2", SocketID: "s2", Conn: c2})

	r.CloseAll()
	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
}
