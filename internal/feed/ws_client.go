package feed

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient streams feed messages over one WebSocket connection.
// Identity 0 receives everything; otherwise only that user's progress.
type WebSocketClient struct {
	ID       string
	Identity int64
	Conn     *websocket.Conn
	Hub      *Hub
	Send     chan Message
}

func NewWebSocketClient(conn *websocket.Conn, hub *Hub, identity int64) *WebSocketClient {
	return &WebSocketClient{
		ID:       uuid.NewString(),
		Identity: identity,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan Message, 64),
	}
}

func (c *WebSocketClient) GetID() string                  { return c.ID }
func (c *WebSocketClient) GetSendChannel() chan<- Message { return c.Send }

func (c *WebSocketClient) Wants(msg Message) bool {
	if c.Identity == 0 {
		return true
	}
	return msg.Type == TypeProgress && msg.Progress != nil && msg.Progress.Identity == c.Identity
}

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	close(c.Send)
}

// readPump only services control frames; the feed is one-way.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debugf("feed client %s read error", c.ID)
			}
			return
		}
	}
}

// writePump читає повідомлення з каналу Send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.WithError(err).Errorf("feed client %s: encode message", c.ID)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
