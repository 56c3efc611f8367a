package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/crm-chat/backend/internal/service/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
	"github.com/zhouzirui/crm-chat/backend/internal/service/transport"
	"github.com/zhouzirui/crm-chat/backend/pkg/utils"
)

const (
	resolveTimeout = 5 * time.Second

	sendFailedReply = "Sorry, the message could not be delivered. Please try again."
	sendFailedError = "could not send, try again"
)

// Sender 抽象消息发送，便于测试与替换实现
type Sender interface {
	SendMessage(ctx context.Context, text string) (string, error)
	SendMediaMessage(ctx context.Context, file media.File, fileName string, kind chat.MessageType) (string, error)
	Loading() bool
	InFlight() int
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc        *chatService.Service
	sender         Sender
	maxUploadBytes int64
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, sender Sender, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &Handler{
		chatSvc:        chatSvc,
		sender:         sender,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(cr chi.Router) {
		cr.Get("/messages", h.handleListMessages)
		cr.Post("/messages", h.handleSendMessage)
		cr.Delete("/messages", h.handleClearMessages)
		cr.Patch("/messages/{id}", h.handleUpdateMessage)
		cr.Post("/media", h.handleSendMedia)
		cr.Get("/status", h.handleStatus)
	})
}

// exchangeResponse is returned after a send completes.
type exchangeResponse struct {
	Message chat.Message `json:"message"`
	Reply   chat.Message `json:"reply"`
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Messages())
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	draft := chat.Draft{Content: content, Sender: chat.SenderUser, Type: chat.TypeText}
	h.exchange(w, r, draft, func(ctx context.Context) (string, error) {
		return h.sender.SendMessage(ctx, content)
	})
}

func (h *Handler) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var (
		file     media.File
		fileName string
		kind     chat.MessageType
		mediaURL string
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var payload struct {
			FileName string           `json:"fileName"`
			DataURL  string           `json:"dataUrl"`
			Kind     chat.MessageType `json:"kind"`
			MediaURL string           `json:"mediaUrl"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes*2)).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if payload.FileName == "" || payload.DataURL == "" {
			utils.RespondError(w, http.StatusBadRequest, "fileName and dataUrl are required")
			return
		}
		decoded, err := media.FromDataURL(payload.FileName, payload.DataURL)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid dataUrl")
			return
		}
		file, fileName, kind, mediaURL = decoded, payload.FileName, payload.Kind, payload.MediaURL
		if kind == "" {
			kind = transport.KindForMIME(decoded.ContentType())
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
			return
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			utils.RespondError(w, http.StatusBadRequest, "file is required")
			return
		}
		header := files[0]
		file, fileName, mediaURL = media.FromMultipart(header), header.Filename, r.FormValue("mediaUrl")
		kind = chat.MessageType(r.FormValue("kind"))
		if kind == "" {
			kind = transport.KindForMIME(header.Header.Get("Content-Type"))
		}
	}

	if !kind.IsMedia() {
		utils.RespondError(w, http.StatusBadRequest, "kind must be image, audio or document")
		return
	}

	draft := chat.Draft{
		Content:  fileName,
		Sender:   chat.SenderUser,
		Type:     kind,
		FileName: fileName,
		MediaURL: mediaURL,
	}
	h.exchange(w, r, draft, func(ctx context.Context) (string, error) {
		return h.sender.SendMediaMessage(ctx, file, fileName, kind)
	})
}

// exchange records the user message and a loading placeholder, sends, then resolves the placeholder.
func (h *Handler) exchange(w http.ResponseWriter, r *http.Request, draft chat.Draft, send func(context.Context) (string, error)) {
	ctx := r.Context()

	userID, err := h.chatSvc.AddMessage(ctx, draft)
	if err != nil {
		log.Printf("[chat] failed to record user message: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	placeholderID, err := h.chatSvc.AddMessage(ctx, chat.Draft{Sender: chat.SenderBot, IsLoading: true})
	if err != nil {
		log.Printf("[chat] failed to record reply placeholder: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	replyText, sendErr := send(ctx)

	// 客户端断开后仍需落盘，否则占位消息会一直处于 loading
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()

	loading := false
	content := replyText
	if sendErr != nil {
		content = sendFailedReply
	}
	if err := h.chatSvc.UpdateMessage(resolveCtx, placeholderID, chat.Patch{Content: &content, IsLoading: &loading}); err != nil {
		log.Printf("[chat] failed to resolve reply placeholder %s: %v", placeholderID, err)
	}

	if sendErr != nil {
		utils.RespondError(w, http.StatusBadGateway, sendFailedError)
		return
	}

	userMsg, _ := h.chatSvc.Find(userID)
	replyMsg, _ := h.chatSvc.Find(placeholderID)
	utils.RespondJSON(w, http.StatusOK, exchangeResponse{Message: userMsg, Reply: replyMsg})
}

func (h *Handler) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch chat.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.UpdateMessage(r.Context(), id, patch); err != nil {
		log.Printf("[chat] update %s failed: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to update message")
		return
	}

	msg, err := h.chatSvc.Find(id)
	if errors.Is(err, chatService.ErrMessageNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearMessages(r.Context()); err != nil {
		log.Printf("[chat] clear failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear messages")
		return
	}
	utils.RespondNoContent(w)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"loading":  h.sender.Loading(),
		"inFlight": h.sender.InFlight(),
	})
}
