package chat

import (
	"strings"
	"time"
)

type MessageID string

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Text           string
	Sender         Sender
	Image          string
	System         bool
	CreatedAt      time.Time
}

// Valid reports whether the record carries the fields required for display.
func (m Message) Valid() bool {
	return m.ID != "" && m.Text != "" && m.Sender.ID != ""
}

// Before orders messages by creation time, ties broken by id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Snapshot returns the denormalized copy stored on the conversation.
func (m Message) Snapshot() LastMessage {
	return LastMessage{
		Text:      m.Text,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
	}
}

// Draft is a message that has not been appended yet. Key identifies the
// send attempt; stores treat a repeated key as the same message.
type Draft struct {
	Key    string
	Text   string
	Sender Sender
	Image  string
	System bool
}

type DraftParams struct {
	Key    string
	Text   string
	Sender Sender
	Image  string
	System bool
}

func NewDraft(params DraftParams) (Draft, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return Draft{}, ErrTextRequired
	}
	sender := params.Sender
	sender.ID = UserID(strings.TrimSpace(string(sender.ID)))
	if sender.ID == "" {
		return Draft{}, ErrSenderRequired
	}
	sender.Name = strings.TrimSpace(sender.Name)
	if sender.Name == "" {
		sender.Name = UnknownUserName
	}
	sender.Avatar = strings.TrimSpace(sender.Avatar)
	return Draft{
		Key:    strings.TrimSpace(params.Key),
		Text:   text,
		Sender: sender,
		Image:  strings.TrimSpace(params.Image),
		System: params.System,
	}, nil
}

// Materialize turns the draft into a stored message.
func (d Draft) Materialize(id MessageID, conversation ConversationID, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: conversation,
		Text:           d.Text,
		Sender:         d.Sender,
		Image:          d.Image,
		System:         d.System,
		CreatedAt:      at.UTC(),
	}
}
