package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client is one websocket connection. Frames reach the socket only through
// the buffered send channel drained by writePump, so a connection never has
// two concurrent writers.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, buffer int, idle time.Duration) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		pingEvery: idle * 9 / 10,
	}
}

func (c *Client) ID() string { return c.id }

type enqueueResult int

const (
	queued enqueueResult = iota
	clientClosed
	bufferFull
)

func (c *Client) enqueue(data []byte) enqueueResult {
	select {
	case <-c.done:
		return clientClosed
	default:
	}
	select {
	case c.send <- data:
		return queued
	default:
		return bufferFull
	}
}

// sendJSON queues v for this client only.
func (c *Client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.enqueue(data) == queued
}

// Close stops the writer and closes the socket, which also ends the reader.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
