// Package transport carries widget frames over a websocket connection.
// This is host-application glue: pkg/widget/machine only depends on the
// FrameSender interface, never on this package.
package transport

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/kandev/widgetd/internal/logging"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// FrameHandler receives one decoded frame's raw bytes at a time, in the
// shape *machine.Machine.HandleFrame expects.
type FrameHandler func(raw []byte) error

// WebSocketComm binds a machine session to a single websocket connection.
type WebSocketComm struct {
	conn    *websocket.Conn
	send    chan []byte
	log     *logging.Logger
	onFrame FrameHandler
}

// NewWebSocketComm wraps conn. onFrame is invoked from ReadPump's goroutine
// for every message received.
func NewWebSocketComm(conn *websocket.Conn, log *logging.Logger, onFrame FrameHandler) *WebSocketComm {
	if log == nil {
		log = logging.Nop()
	}
	return &WebSocketComm{
		conn:    conn,
		send:    make(chan []byte, 64),
		log:     log,
		onFrame: onFrame,
	}
}

// SendFrame implements machine.FrameSender and outgoing.Sender.
func (c *WebSocketComm) SendFrame(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// ReadPump reads frames off the connection until it errors or closes.
func (c *WebSocketComm) ReadPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("widget websocket read error", zap.Error(err))
			}
			return
		}
		if err := c.onFrame(raw); err != nil {
			c.log.Debug("frame handling failed", zap.Error(err))
		}
	}
}

// WritePump drains outgoing frames onto the connection, pinging on idle.
func (c *WebSocketComm) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close stops the write pump and closes the underlying connection.
func (c *WebSocketComm) Close() {
	close(c.send)
}
