package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
	"github.com/zhouzirui/crm-chat/backend/internal/service/reply"
	"github.com/zhouzirui/crm-chat/backend/internal/service/request"
)

var (
	ErrEndpointRequired = errors.New("webhook endpoint is required")
	ErrUnsupportedMedia = errors.New("unsupported media kind")
)

// SendFailedError is the only error a send surfaces. The underlying cause is logged,
// not wrapped, so callers handle one generic failure.
type SendFailedError struct {
	msg string
}

func (e *SendFailedError) Error() string { return e.msg }

func sendFailed(msg string) *SendFailedError { return &SendFailedError{msg: msg} }

// Poster is the request primitive the transport sends through.
type Poster interface {
	Post(ctx context.Context, endpoint string, payload any, opts ...request.Option) (*request.Response, error)
}

// Encoder converts files into base64 payloads.
type Encoder interface {
	Encode(file media.File) (media.Encoded, error)
}

// Config holds the webhook destination and upload timeout.
type Config struct {
	Endpoint      string
	UploadTimeout time.Duration
}

type textPayload struct {
	Type    chat.MessageType `json:"type"`
	Content string           `json:"content"`
}

type mediaPayload struct {
	Type     chat.MessageType `json:"type"`
	Content  string           `json:"content"`
	File     string           `json:"file"`
	MimeType string           `json:"mimeType"`
}

// Service delivers user messages to the webhook agent and returns its display reply.
type Service struct {
	poster   Poster
	encoder  Encoder
	cfg      Config
	inFlight atomic.Int64
}

// New creates a transport. A zero UploadTimeout uses request.DefaultUploadTimeout.
func New(poster Poster, encoder Encoder, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = request.DefaultUploadTimeout
	}
	if encoder == nil {
		encoder = media.NewEncoder(0)
	}
	return &Service{poster: poster, encoder: encoder, cfg: cfg}, nil
}

// Loading reports whether any send is outstanding.
func (s *Service) Loading() bool {
	return s.inFlight.Load() > 0
}

// InFlight returns the number of outstanding sends.
func (s *Service) InFlight() int {
	return int(s.inFlight.Load())
}

// SendMessage posts a text message and returns the normalized reply.
func (s *Service) SendMessage(ctx context.Context, text string) (string, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	resp, err := s.poster.Post(ctx, s.cfg.Endpoint, textPayload{Type: chat.TypeText, Content: text})
	if err != nil {
		log.Printf("[transport] send message failed: %v", err)
		return "", sendFailed("failed to send message")
	}

	return reply.Normalize(string(resp.Body)), nil
}

// SendMediaMessage encodes file and posts it as kind. fileName becomes the message content.
func (s *Service) SendMediaMessage(ctx context.Context, file media.File, fileName string, kind chat.MessageType) (string, error) {
	if !kind.IsMedia() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, kind)
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	encoded, err := s.encoder.Encode(file)
	if err != nil {
		log.Printf("[transport] encode %s failed: %v", fileName, err)
		return "", sendFailed("failed to send file")
	}

	payload := mediaPayload{
		Type:     kind,
		Content:  fileName,
		File:     encoded.Payload,
		MimeType: encoded.MimeType,
	}

	resp, err := s.poster.Post(ctx, s.cfg.Endpoint, payload, request.WithTimeout(s.cfg.UploadTimeout))
	if err != nil {
		log.Printf("[transport] send file %s (%s, %d bytes) failed: %v", fileName, encoded.MimeType, encoded.Size, err)
		return "", sendFailed("failed to send file")
	}

	return reply.Normalize(string(resp.Body)), nil
}

// KindForMIME picks the media kind for a MIME type, defaulting to document.
func KindForMIME(mimeType string) chat.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return chat.TypeImage
	case strings.HasPrefix(mimeType, "audio/"):
		return chat.TypeAudio
	default:
		return chat.TypeDocument
	}
}
