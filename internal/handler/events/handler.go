package events

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
	"github.com/zhouzirui/soullink/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

// Handler 通过 WebSocket 推送当前用户的会话变更，供其他已打开的客户端刷新历史列表。
type Handler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// New 创建 WebSocket 推送处理器。
func New(hub *events.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logrus.WithField("component", "handler.events"),
	}
}

// RegisterRoutes 注册需要认证的 WebSocket 路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	feed, stop := h.hub.Subscribe(userID)
	defer stop()

	log := h.log.WithField("user", userID)
	log.Info("feed connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 客户端不发送业务消息，读取仅用于检测断开。
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	h.send(conn, events.Event{Type: events.TypeConnected, Timestamp: time.Now().UnixMilli()})

	for {
		select {
		case <-ctx.Done():
			log.Info("feed closed")
			return
		case evt, ok := <-feed:
			if !ok {
				return
			}
			if err := h.send(conn, evt); err != nil {
				log.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, evt events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}
