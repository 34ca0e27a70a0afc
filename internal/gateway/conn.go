package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"chatgateway/internal/auth"
	"chatgateway/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 1 << 20 // 1MB
	sendBuffer   = 256
)

type Client struct {
	hub     *Hub
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	limit := rate.Inf
	if h.opts.MessagesPerSecond > 0 {
		limit = rate.Limit(h.opts.MessagesPerSecond)
	}
	burst := h.opts.MessageBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		hub:     h,
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Serve 升级 websocket 连接；携带有效 token 时连接建立后立即绑定会话。
func Serve(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ident *auth.Identity
		if token := auth.BearerToken(c); token != "" {
			id, err := h.accounts.Validate(c.Request.Context(), token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			ident = id
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		client := h.newClient(conn)
		if !h.submit(func() { h.register(client) }) {
			_ = conn.Close()
			return
		}
		if ident != nil {
			h.bind(client, 0, ident.Username, "Authenticated", "")
		}

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.submit(func() { c.hub.unregister(c) })
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read")
			}
			break
		}
		if !c.limiter.Allow() {
			metrics.WsRateLimited.Inc()
			c.emitError("rate limit exceeded")
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
			c.emitError("invalid frame")
			continue
		}
		c.hub.handle(c, f)
	}
}

func (c *Client) emitError(msg string) {
	c.hub.submit(func() { c.hub.Emit(c.id, EvError, Notice{Message: msg}) })
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
