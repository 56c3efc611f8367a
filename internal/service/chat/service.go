package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/storage"
)

// DefaultKey is the storage key holding the conversation snapshot.
const DefaultKey = "chat-messages"

var ErrMessageNotFound = errors.New("message not found")

// PersistenceLoadError describes an unreadable snapshot. Load logs it and degrades to an empty log.
type PersistenceLoadError struct {
	Key string
	Err error
}

func (e *PersistenceLoadError) Error() string {
	return fmt.Sprintf("load snapshot %s: %v", e.Key, e.Err)
}

func (e *PersistenceLoadError) Unwrap() error { return e.Err }

// Option customizes a Service.
type Option func(*Service)

// WithKey stores the snapshot under key instead of DefaultKey.
func WithKey(key string) Option {
	return func(s *Service) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the message id source.
func WithIDGenerator(next func() (string, error)) Option {
	return func(s *Service) { s.nextID = next }
}

// Service is the ordered conversation log. Every mutation rewrites the whole snapshot
// before returning, so memory and storage agree after each call.
type Service struct {
	mu       sync.Mutex
	kv       storage.KV
	key      string
	messages []chat.Message
	now      func() time.Time
	nextID   func() (string, error)

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

// NewService creates an empty log backed by kv. Call Load to restore a snapshot.
func NewService(kv storage.KV, opts ...Option) *Service {
	s := &Service{
		kv:          kv,
		key:         DefaultKey,
		messages:    make([]chat.Message, 0, 16),
		now:         func() time.Time { return time.Now().UTC() },
		nextID:      newMessageID,
		subscribers: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newMessageID returns a UUIDv7: a millisecond timestamp followed by random bits,
// monotonic for ids minted within the same millisecond.
func newMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Load restores the persisted log. A missing or corrupt snapshot yields an empty log.
func (s *Service) Load(ctx context.Context) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.readSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[chat] %v", &PersistenceLoadError{Key: s.key, Err: err})
		}
		messages = nil
	}

	s.messages = make([]chat.Message, 0, len(messages)+16)
	s.messages = append(s.messages, messages...)
	return copyMessages(s.messages)
}

// Messages returns a copy of the log in insertion order.
func (s *Service) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.messages)
}

// AddMessage appends a new message and returns its id.
func (s *Service) AddMessage(ctx context.Context, draft chat.Draft) (string, error) {
	id, err := s.nextID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}

	msgType := draft.Type
	if msgType == "" {
		msgType = chat.TypeText
	}

	message := chat.Message{
		ID:        id,
		Content:   draft.Content,
		Sender:    draft.Sender,
		Timestamp: s.now(),
		IsLoading: draft.IsLoading,
		Type:      msgType,
		MediaURL:  draft.MediaURL,
		FileName:  draft.FileName,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]chat.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, message)

	if err := s.writeSnapshot(ctx, next); err != nil {
		return "", err
	}
	s.messages = next

	s.publish(Event{Kind: EventAdded, Message: &message})
	return id, nil
}

// UpdateMessage merges patch into the message with id. An unknown id changes nothing
// but the snapshot is still rewritten.
func (s *Service) UpdateMessage(ctx context.Context, id string, patch chat.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyMessages(s.messages)
	var updated *chat.Message
	for i := range next {
		if next[i].ID == id {
			patch.Apply(&next[i])
			updated = &next[i]
			break
		}
	}

	if err := s.writeSnapshot(ctx, next); err != nil {
		return err
	}
	s.messages = next

	if updated != nil {
		message := *updated
		s.publish(Event{Kind: EventUpdated, Message: &message})
	}
	return nil
}

// Find returns the message with id.
func (s *Service) Find(id string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return chat.Message{}, ErrMessageNotFound
}

// ClearMessages empties the log and removes the snapshot key.
func (s *Service) ClearMessages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	s.messages = make([]chat.Message, 0, 16)

	s.publish(Event{Kind: EventCleared})
	return nil
}

func (s *Service) readSnapshot(ctx context.Context) ([]chat.Message, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}

	var messages []chat.Message
	if err := sonic.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return messages, nil
}

func (s *Service) writeSnapshot(ctx context.Context, messages []chat.Message) error {
	data, err := sonic.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func copyMessages(messages []chat.Message) []chat.Message {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}
