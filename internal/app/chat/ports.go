package chat

import (
	"context"

	"marketchat/internal/app/stream"
	domainchat "marketchat/internal/domain/chat"
)

// ConversationStore persists conversation documents.
type ConversationStore interface {
	// ConversationsFor returns every conversation whose participants contain
	// user, in store order.
	ConversationsFor(ctx context.Context, user domainchat.UserID) ([]domainchat.Conversation, error)
	// Conversation returns domainchat.ErrConversationNotFound for unknown ids.
	Conversation(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error)
	// CreateConversation stores conv in a single document write and returns
	// it with the assigned id.
	CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, error)
	UpdateConversationMeta(ctx context.Context, id domainchat.ConversationID, update domainchat.MetaUpdate) error
	DeleteConversation(ctx context.Context, id domainchat.ConversationID) error
}

// MessageLog is the ordered message sub-log of a conversation. Appends with a
// draft key already present in the log return the stored message instead of
// creating a second one.
type MessageLog interface {
	AppendMessage(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error)
	// AppendMessageDirect writes the message without auxiliary processing.
	AppendMessageDirect(ctx context.Context, id domainchat.ConversationID, draft domainchat.Draft) (domainchat.Message, error)
	Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error)
}

// Subscriber opens live queries. Each snapshot is the full query result.
type Subscriber interface {
	SubscribeMessages(ctx context.Context, id domainchat.ConversationID) (stream.Subscription[[]domainchat.Message], error)
	SubscribeConversations(ctx context.Context, user domainchat.UserID) (stream.Subscription[[]domainchat.Conversation], error)
}

// Store is the full document store used by the service.
type Store interface {
	ConversationStore
	MessageLog
	Subscriber
}

type ProfileLookup interface {
	Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error)
}

type ListingLookup interface {
	ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error)
}

// Metrics receives chat counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	MessageSent(fallback bool)
	SendFailed()
	MetadataUpdateFailed()
	LookupFailed(kind string)
	StreamError(view string)
	LiveViewOpened(view string)
	LiveViewClosed(view string)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(bool)      {}
func (nopMetrics) SendFailed()           {}
func (nopMetrics) MetadataUpdateFailed() {}
func (nopMetrics) LookupFailed(string)   {}
func (nopMetrics) StreamError(string)    {}
func (nopMetrics) LiveViewOpened(string) {}
func (nopMetrics) LiveViewClosed(string) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
