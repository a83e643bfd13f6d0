package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/d1618033/simplechat/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client 是一个订阅者，只接收事件；写操作走 REST 接口以经过同样的鉴权。
type Client struct {
	room          *RoomHub
	conn          *websocket.Conn
	send          chan []byte
	participantID uint
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 仅为会话属于所请求房间的订阅者升级连接。
func Serve(h *Hub, iss *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid64, err := strconv.ParseUint(c.Query("room"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
			return
		}
		token := c.Query("token")
		if token == "" {
			token = auth.TokenFromRequest(c)
		}
		id, err := iss.Resolve(c.Request.Context(), token)
		if err != nil || id.RoomID != uint(rid64) {
			c.JSON(http.StatusForbidden, gin.H{"error": auth.Rejected})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		rh := h.GetRoom(uint(rid64))
		client := &Client{room: rh, conn: conn, send: make(chan []byte, 256), participantID: id.ParticipantID}
		rh.register <- client

		go client.writePump()
		client.readPump()
	}
}

// readPump only services control frames and notices disconnects.
func (c *Client) readPump() {
	defer func() {
		c.room.unregister <- c
		_ = c.conn.Close()
		log.Debug().Uint("room_id", c.room.roomID).Uint("participant_id", c.participantID).Msg("subscriber left")
	}()
	c.conn.SetReadLimit(4 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
