package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	agentService "github.com/zhouzirui/crm-chat/backend/internal/service/agent"
	"github.com/zhouzirui/crm-chat/backend/pkg/utils"
)

// Replier answers a webhook request.
type Replier interface {
	Reply(ctx context.Context, req agentService.Request) (string, error)
}

// Handler exposes the local agent behind the same webhook contract the transport posts to.
type Handler struct {
	replier Replier
}

// New creates a new agent handler
func New(replier Replier) *Handler {
	return &Handler{replier: replier}
}

// RegisterRoutes 注册 agent webhook 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/agent/webhook", h.handleWebhook)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req agentService.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text, err := h.replier.Reply(r.Context(), req)
	if errors.Is(err, agentService.ErrEmptyRequest) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("[agent] webhook reply failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "agent unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, []agentService.Output{{Output: text}})
}
