package chat

import (
	"time"

	"marketchat/internal/domain/shared/events"
)

type ConversationCreated struct {
	ConversationID ConversationID
	Participants   []UserID
	ListingID      ListingID
	At             time.Time
}

func (e ConversationCreated) EventName() string     { return "chat.conversation_created" }
func (e ConversationCreated) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationCreated) OccurredAt() time.Time { return e.At }

// MessageSent is consumed by the external push sender, which looks up the
// recipients' push tokens itself.
type MessageSent struct {
	ConversationID ConversationID
	MessageID      MessageID
	SenderID       UserID
	SenderName     string
	Recipients     []UserID
	Text           string
	ListingID      ListingID
	At             time.Time
}

func (e MessageSent) EventName() string     { return "chat.message_sent" }
func (e MessageSent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSent) OccurredAt() time.Time { return e.At }

type ConversationDeleted struct {
	ConversationID ConversationID
	DeletedBy      UserID
	At             time.Time
}

func (e ConversationDeleted) EventName() string     { return "chat.conversation_deleted" }
func (e ConversationDeleted) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationDeleted) OccurredAt() time.Time { return e.At }

var (
	_ events.DomainEvent = ConversationCreated{}
	_ events.DomainEvent = MessageSent{}
	_ events.DomainEvent = ConversationDeleted{}
)
