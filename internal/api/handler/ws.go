package handler

import (
	"net/http"
	"reportbot/backend/internal/feed"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену: доступ і так закритий токеном.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket і підписує його на стрічку.
// ?identity=<id> обмежує потік прогресом одного користувача.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	var identity int64
	if raw := c.Query("identity"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid identity"})
			return
		}
		identity = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade уже відповів клієнту.
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := feed.NewWebSocketClient(conn, h.Hub, identity)
	select {
	case h.Hub.RegisterCh <- client:
		client.Run()
	case <-h.Hub.Done():
		_ = conn.Close()
	}
}
