package chat

import (
	"log"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
)

// EventKind names a change to the conversation log.
type EventKind string

const (
	EventAdded   EventKind = "message.added"
	EventUpdated EventKind = "message.updated"
	EventCleared EventKind = "messages.cleared"
)

// Event is delivered to subscribers after a mutation has been persisted.
type Event struct {
	Kind    EventKind     `json:"event"`
	Message *chat.Message `json:"message,omitempty"`
}

// Subscribe registers a listener. Events are dropped for listeners whose buffer is full.
// The returned func unsubscribes and closes the channel.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once bool
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Service) publish(event Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			log.Printf("[chat] subscriber %d is slow, dropping %s", id, event.Kind)
		}
	}
}
