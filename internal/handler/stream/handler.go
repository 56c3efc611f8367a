package stream

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/crm-chat/backend/internal/service/chat"
	"github.com/zhouzirui/crm-chat/backend/pkg/utils"
)

const (
	eventSnapshot = "snapshot"

	subscriberBuffer  = 64
	heartbeatInterval = 15 * time.Second
	pingInterval      = 54 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 10 * time.Second
)

// Snapshot is the first frame of every feed.
type Snapshot struct {
	Event    string         `json:"event"`
	Messages []chat.Message `json:"messages"`
}

// Handler streams conversation log changes to live clients over SSE or websocket.
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader

	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat: heartbeatInterval,
	}
}

// RegisterRoutes 注册实时推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/events", h.handleEvents)
	r.Get("/chat/ws", h.handleWebSocket)
}

// subscribe takes the snapshot after registering so no mutation falls between the two.
func (h *Handler) subscribe() (Snapshot, <-chan chatService.Event, func()) {
	events, cancel := h.chatSvc.Subscribe(subscriberBuffer)
	return Snapshot{Event: eventSnapshot, Messages: h.chatSvc.Messages()}, events, cancel
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	snapshot, events, cancel := h.subscribe()
	defer cancel()

	ctx := r.Context()
	log.Printf("[sse] feed opened from %s", r.RemoteAddr)
	defer log.Printf("[sse] feed closed from %s", r.RemoteAddr)

	if err := utils.SendSSEEvent(w, flusher, eventSnapshot, snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
				log.Printf("[sse] write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshot, events, cancel := h.subscribe()
	defer cancel()

	log.Printf("[websocket] feed opened from %s", r.RemoteAddr)

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// 客户端只读，读循环仅用于感知断开与处理pong
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}
		}
	}()

	if err := h.writeJSON(conn, snapshot); err != nil {
		log.Printf("[websocket] write snapshot failed: %v", err)
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[websocket] feed closed from %s", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeJSON(conn, ev); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
