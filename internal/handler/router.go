package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/crm-chat/backend/internal/handler/agent"
	"github.com/zhouzirui/crm-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/crm-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/crm-chat/backend/internal/service/chat"
	"github.com/zhouzirui/crm-chat/backend/pkg/utils"
)

// Options carries the services behind the HTTP surface. Agent may be nil.
type Options struct {
	Chat           *chatService.Service
	Sender         chat.Sender
	Agent          agent.Replier
	MaxUploadBytes int64
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(opts.Chat, opts.Sender, opts.MaxUploadBytes)
	streamHandler := stream.New(opts.Chat)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)

		// 未配置本地 agent 时 webhook 需指向外部服务
		if opts.Agent != nil {
			agent.New(opts.Agent).RegisterRoutes(api)
		}
	})

	return r
}
