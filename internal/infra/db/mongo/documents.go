package mongo

import (
	"time"

	domainchat "marketchat/internal/domain/chat"
)

type senderDocument struct {
	ID     string `bson:"id"`
	Name   string `bson:"name"`
	Avatar string `bson:"avatar,omitempty"`
}

type lastMessageDocument struct {
	Text      string         `bson:"text"`
	Sender    senderDocument `bson:"user"`
	CreatedAt time.Time      `bson:"created_at"`
}

type legacyMessageDocument struct {
	SenderID  string    `bson:"sender_id"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"created_at"`
}

type conversationDocument struct {
	ID              string                  `bson:"_id"`
	Participants    []string                `bson:"participants"`
	ListingID       string                  `bson:"listing_id,omitempty"`
	ListingTitle    string                  `bson:"listing_title,omitempty"`
	LastMessage     *lastMessageDocument    `bson:"last_message,omitempty"`
	LastMessageTime time.Time               `bson:"last_message_time,omitempty"`
	CreatedAt       time.Time               `bson:"created_at"`
	UpdatedAt       time.Time               `bson:"updated_at"`
	Messages        []legacyMessageDocument `bson:"messages,omitempty"`
}

type messageDocument struct {
	ID             string         `bson:"_id"`
	ConversationID string         `bson:"conversation_id"`
	DraftKey       string         `bson:"draft_key,omitempty"`
	Text           string         `bson:"text"`
	Sender         senderDocument `bson:"user"`
	Image          string         `bson:"image,omitempty"`
	System         bool           `bson:"system,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
}

func newSenderDocument(s domainchat.Sender) senderDocument {
	return senderDocument{ID: string(s.ID), Name: s.Name, Avatar: s.Avatar}
}

func (d senderDocument) toDomain() domainchat.Sender {
	return domainchat.Sender{ID: domainchat.UserID(d.ID), Name: d.Name, Avatar: d.Avatar}
}

func newLastMessageDocument(m domainchat.LastMessage) *lastMessageDocument {
	return &lastMessageDocument{Text: m.Text, Sender: newSenderDocument(m.Sender), CreatedAt: m.CreatedAt.UTC()}
}

func newConversationDocument(c domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:              string(c.ID),
		Participants:    make([]string, 0, len(c.Participants)),
		ListingID:       string(c.ListingID),
		ListingTitle:    c.ListingTitle,
		LastMessageTime: c.LastMessageTime.UTC(),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
	for _, p := range c.Participants {
		doc.Participants = append(doc.Participants, string(p))
	}
	if c.LastMessage != nil {
		doc.LastMessage = newLastMessageDocument(*c.LastMessage)
	}
	for _, m := range c.Messages {
		doc.Messages = append(doc.Messages, legacyMessageDocument{SenderID: string(m.SenderID), Text: m.Text, CreatedAt: m.CreatedAt.UTC()})
	}
	return doc
}

func (d conversationDocument) toDomain() domainchat.Conversation {
	conv := domainchat.Conversation{
		ID:              domainchat.ConversationID(d.ID),
		Participants:    make([]domainchat.UserID, 0, len(d.Participants)),
		ListingID:       domainchat.ListingID(d.ListingID),
		ListingTitle:    d.ListingTitle,
		LastMessageTime: d.LastMessageTime.UTC(),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, p := range d.Participants {
		conv.Participants = append(conv.Participants, domainchat.UserID(p))
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domainchat.LastMessage{
			Text:      d.LastMessage.Text,
			Sender:    d.LastMessage.Sender.toDomain(),
			CreatedAt: d.LastMessage.CreatedAt.UTC(),
		}
	}
	for _, m := range d.Messages {
		conv.Messages = append(conv.Messages, domainchat.LegacyMessage{
			SenderID:  domainchat.UserID(m.SenderID),
			Text:      m.Text,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return conv
}

func newMessageDocument(id string, conversation domainchat.ConversationID, draft domainchat.Draft, at time.Time) messageDocument {
	return messageDocument{
		ID:             id,
		ConversationID: string(conversation),
		DraftKey:       draft.Key,
		Text:           draft.Text,
		Sender:         newSenderDocument(draft.Sender),
		Image:          draft.Image,
		System:         draft.System,
		CreatedAt:      at.UTC(),
	}
}

func (d messageDocument) toDomain() domainchat.Message {
	return domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		Text:           d.Text,
		Sender:         d.Sender.toDomain(),
		Image:          d.Image,
		System:         d.System,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}
