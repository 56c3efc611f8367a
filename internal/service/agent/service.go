package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You are the assistant of a CRM dashboard. Answer questions about clients, contracts, " +
	"schedules and finances concisely. When the user sends a file, acknowledge it and ask how you can help with it."

var ErrEmptyRequest = errors.New("webhook request has no content")

// Request mirrors the body the chat transport posts to the webhook.
type Request struct {
	Type     chat.MessageType `json:"type"`
	Content  string           `json:"content"`
	File     string           `json:"file,omitempty"`
	MimeType string           `json:"mimeType,omitempty"`
}

// Output is one element of the webhook reply envelope.
type Output struct {
	Output string `json:"output"`
}

// Service answers webhook requests with a chat model, standing in for the remote agent.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, systemPrompt string) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	return &Service{chain: runnable, system: systemPrompt}, nil
}

// Reply produces the agent's answer for req.
func (s *Service) Reply(ctx context.Context, req Request) (string, error) {
	query := buildQuery(req)
	if query == "" {
		return "", ErrEmptyRequest
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": s.system,
		"query":  query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run agent chain: %w", err)
	}

	log.Printf("[agent] replied to %s request, length=%d", req.Type, len(response.Content))
	return response.Content, nil
}

func buildQuery(req Request) string {
	content := strings.TrimSpace(req.Content)
	if req.Type == "" || req.Type == chat.TypeText {
		return content
	}

	// browser clients may post the file as a data URL
	size := base64.StdEncoding.DecodedLen(len(media.StripDataURIPrefix(req.File)))
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "unknown type"
	}
	return fmt.Sprintf("The user uploaded a %s named %q (%s, about %d bytes).", req.Type, content, mimeType, size)
}
