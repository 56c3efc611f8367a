package chat

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// MessageType classifies the body of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

// IsMedia reports whether t is one of the uploadable media kinds.
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeAudio, TypeDocument:
		return true
	default:
		return false
	}
}

// Message is a single entry of the conversation log.
type Message struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Sender    Sender      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	IsLoading bool        `json:"isLoading,omitempty"`
	Type      MessageType `json:"type"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
}

// Draft carries the caller-supplied fields of a new message. Identity and
// timestamp are assigned by the store.
type Draft struct {
	Content   string      `json:"content"`
	Sender    Sender      `json:"sender"`
	IsLoading bool        `json:"isLoading,omitempty"`
	Type      MessageType `json:"type,omitempty"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
}

// Patch lists the fields to merge into an existing message. Nil fields are left untouched.
type Patch struct {
	Content   *string      `json:"content,omitempty"`
	Sender    *Sender      `json:"sender,omitempty"`
	IsLoading *bool        `json:"isLoading,omitempty"`
	Type      *MessageType `json:"type,omitempty"`
	MediaURL  *string      `json:"mediaUrl,omitempty"`
	FileName  *string      `json:"fileName,omitempty"`
}

// Apply merges p into m. ID and Timestamp are immutable.
func (p Patch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Sender != nil {
		m.Sender = *p.Sender
	}
	if p.IsLoading != nil {
		m.IsLoading = *p.IsLoading
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.MediaURL != nil {
		m.MediaURL = *p.MediaURL
	}
	if p.FileName != nil {
		m.FileName = *p.FileName
	}
}
