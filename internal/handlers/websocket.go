package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/videoroom-relay/internal/livestream"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	errClientGone     = errors.New("client connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Conn is the protocol state behind one WebSocket client.
type Conn interface {
	HandleMessage(raw []byte)
	Close()
}

// AcceptFunc binds a new client to a namespace.
type AcceptFunc func(ctx context.Context, c *Client) Conn

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

// Send queues v for the write pump. It never blocks: a slow client loses
// messages rather than stalling gateway event delivery.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientGone
	default:
		return errSendBufferFull
	}
}

func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// RoomSocket serves the videoroom namespace.
func RoomSocket(r *relay.Relay) gin.HandlerFunc {
	return Socket("room", func(ctx context.Context, c *Client) Conn {
		return r.Accept(ctx, c)
	})
}

// LiveSocket serves the livestream namespace.
func LiveSocket(m *livestream.Mounts) gin.HandlerFunc {
	return Socket("live", func(ctx context.Context, c *Client) Conn {
		return m.Accept(ctx, c)
	})
}

// Socket upgrades the request and runs the client until it disconnects.
func Socket(namespace string, accept AcceptFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("Failed to upgrade %s connection: %v", namespace, err)
			return
		}

		client := &Client{
			ID:   uuid.NewString(),
			conn: ws,
			send: make(chan []byte, sendBuffer),
			done: make(chan struct{}),
		}

		// The request context ends with this handler, the client does not.
		ctx, cancel := context.WithCancel(context.Background())
		conn := accept(ctx, client)
		logger.Infof("Client %s connected to %s from %s", client.ID, namespace, c.ClientIP())

		go client.writePump()
		go func() {
			defer cancel()
			client.readPump(conn)
			logger.Infof("Client %s disconnected from %s", client.ID, namespace)
		}()
	}
}

func (c *Client) readPump(conn Conn) {
	defer func() {
		conn.Close()
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket error on client %s: %v", c.ID, err)
			}
			return
		}
		conn.HandleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debugf("Failed to write to client %s: %v", c.ID, err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
