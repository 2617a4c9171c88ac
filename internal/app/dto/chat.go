package dto

import "time"

// ChatUser is the display data of a message author or conversation peer.
type ChatUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Sender         ChatUser  `json:"user"`
	Image          string    `json:"image,omitempty"`
	System         bool      `json:"system,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMessageList is the ordered message log of a conversation.
type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

// SentMessage is returned by the send endpoints. Warning is set when the
// message was stored but the conversation preview was not refreshed.
type SentMessage struct {
	ChatMessage
	Warning string `json:"warning,omitempty"`
}

// LastMessage is the preview shown in the inbox.
type LastMessage struct {
	Text      string    `json:"text"`
	Sender    ChatUser  `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary describes one inbox row from the viewer's side.
type ConversationSummary struct {
	ID            string       `json:"id"`
	Other         ChatUser     `json:"other_user"`
	LastMessage   *LastMessage `json:"last_message,omitempty"`
	LastMessageAt *time.Time   `json:"last_message_at,omitempty"`
	ListingID     string       `json:"listing_id,omitempty"`
	ListingTitle  string       `json:"listing_title,omitempty"`
	UnreadCount   int          `json:"unread_count"`
	UnreadBadge   string       `json:"unread_badge,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ConversationList is the viewer's inbox.
type ConversationList struct {
	Items []ConversationSummary `json:"items"`
}

// ConversationRef identifies a resolved conversation.
type ConversationRef struct {
	ID string `json:"id"`
}

// ChatStreamFrame is pushed to live chat clients after every delivery.
type ChatStreamFrame struct {
	Messages       []ChatMessage `json:"messages"`
	Added          int           `json:"added"`
	ScrollToLatest bool          `json:"scroll_to_latest,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// InboxStreamFrame is pushed to live inbox clients after every delivery.
type InboxStreamFrame struct {
	Items []ConversationSummary `json:"items"`
	Error string                `json:"error,omitempty"`
}
