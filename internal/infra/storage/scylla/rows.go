package scylla

import (
	"time"

	domainchat "marketchat/internal/domain/chat"
)

type conversationRow struct {
	ID            string
	Participants  []string
	ListingID     string
	ListingTitle  string
	LastText      string
	LastSenderID  string
	LastSender    string
	LastAvatar    string
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// dest lists scan targets in conversationColumns order.
func (r *conversationRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.Participants, &r.ListingID, &r.ListingTitle,
		&r.LastText, &r.LastSenderID, &r.LastSender, &r.LastAvatar,
		&r.LastMessageAt, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r conversationRow) toDomain() domainchat.Conversation {
	conv := domainchat.Conversation{
		ID:              domainchat.ConversationID(r.ID),
		Participants:    make([]domainchat.UserID, 0, len(r.Participants)),
		ListingID:       domainchat.ListingID(r.ListingID),
		ListingTitle:    r.ListingTitle,
		LastMessageTime: r.LastMessageAt.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	for _, p := range r.Participants {
		conv.Participants = append(conv.Participants, domainchat.UserID(p))
	}
	if r.LastSenderID != "" {
		conv.LastMessage = &domainchat.LastMessage{
			Text:      r.LastText,
			Sender:    domainchat.Sender{ID: domainchat.UserID(r.LastSenderID), Name: r.LastSender, Avatar: r.LastAvatar},
			CreatedAt: r.LastMessageAt.UTC(),
		}
	}
	return conv
}

type messageRow struct {
	ConversationID string
	CreatedAt      time.Time
	ID             string
	Text           string
	SenderID       string
	SenderName     string
	SenderAvatar   string
	Image          string
	System         bool
}

// dest lists scan targets in messageColumns order.
func (r *messageRow) dest() []interface{} {
	return []interface{}{
		&r.ConversationID, &r.CreatedAt, &r.ID, &r.Text,
		&r.SenderID, &r.SenderName, &r.SenderAvatar, &r.Image, &r.System,
	}
}

func (r messageRow) toDomain() domainchat.Message {
	return domainchat.Message{
		ID:             domainchat.MessageID(r.ID),
		ConversationID: domainchat.ConversationID(r.ConversationID),
		Text:           r.Text,
		Sender:         domainchat.Sender{ID: domainchat.UserID(r.SenderID), Name: r.SenderName, Avatar: r.SenderAvatar},
		Image:          r.Image,
		System:         r.System,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}
