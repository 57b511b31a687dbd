package ws

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Rierra/LoanCentral/internal/http/middleware"
	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// HandleWebSocket serves moderator dashboards. Clients send
// {"action":"subscribe","channel":"moderators:refunds"} to start receiving events.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	clientID := c.GetString(middleware.CtxClientID)
	websocket.Handler(func(conn *websocket.Conn) {
		client := NewClient(conn)
		h.logger.Info("moderator connected", "client_id", clientID)
		go h.writer(client)
		h.reader(client)
		h.logger.Info("moderator disconnected", "client_id", clientID)
	}).ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) reader(client *Client) {
	defer func() {
		h.hub.UnsubscribeAll(client)
		close(client.out)
		_ = client.conn.Close()
	}()

	for {
		var raw string
		if err := websocket.Message.Receive(client.conn, &raw); err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(msg.Action)) != "subscribe" {
			continue
		}
		channel := subscriptionChannel(msg)
		if channel == "" {
			continue
		}
		h.hub.Subscribe(channel, client)
	}
}

func (h *Handler) writer(client *Client) {
	for payload := range client.out {
		if err := websocket.Message.Send(client.conn, string(payload)); err != nil {
			return
		}
	}
}

func subscriptionChannel(msg subscribeMessage) string {
	switch channel := strings.ToLower(strings.TrimSpace(msg.Channel)); channel {
	case ChannelRefunds, ChannelReplies:
		return channel
	default:
		return ""
	}
}
