package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrSocketClosed is returned by Emit once the socket is gone; the relay
// treats it as "recipient offline" and queues instead.
var ErrSocketClosed = errors.New("socket closed")

const sendBufferSize = 256

type eventEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Client is one connected websocket. It satisfies registry.Conn.
type Client struct {
	socketID string
	conn     *websocket.Conn
	send     chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(socketID string, conn *websocket.Conn) *Client {
	return &Client{
		socketID: socketID,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
}

func (c *Client) SocketID() string { return c.socketID }

// Emit enqueues a named event for the write pump. A closed socket or a full
// buffer reports failure so the caller can fall back to the offline queue.
func (c *Client) Emit(event string, data interface{}) error {
	payload, err := json.Marshal(eventEnvelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrSocketClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrSocketClosed
	default:
		return ErrSocketClosed
	}
}

func (c *Client) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *Client) Close() error {
	c.markClosed()
	return c.conn.Close()
}

func (c *Client) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// writePump serializes all writes to the connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.markClosed()
				return
			}
		case <-c.closed:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump drains inbound frames. Clients don't send application data over
// the socket (the HTTP API does that); reading only serves to detect
// disconnection.
func (c *Client) readPump(onClose func()) {
	defer func() {
		c.markClosed()
		c.conn.Close()
		onClose()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
