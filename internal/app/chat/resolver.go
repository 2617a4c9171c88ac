package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainchat "marketchat/internal/domain/chat"
)

// Resolver maps a two-party relationship to a conversation id.
type Resolver struct {
	Conversations ConversationStore
	Events        *EventSink
	Logger        *slog.Logger
	Now           func() time.Time
}

// GetOrCreate returns the first stored conversation between the caller and
// other, creating one when none exists. Matching looks at participants only:
// an existing conversation is reused even when it was opened for a different
// listing. Concurrent callers may both create; the projector collapses the
// duplicates on read.
func (r *Resolver) GetOrCreate(ctx context.Context, other domainchat.UserID, listing domainchat.ListingID) (domainchat.ConversationID, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return "", err
	}
	other = domainchat.UserID(strings.TrimSpace(string(other)))
	if other == "" || other == self {
		return "", precondition(domainchat.ErrParticipantsInvalid)
	}
	if r.Conversations == nil {
		return "", storeUnavailable("resolve conversation", errors.New("conversation store not configured"))
	}

	existing, err := r.Conversations.ConversationsFor(ctx, self)
	if err != nil {
		return "", storeUnavailable("list conversations", err)
	}
	for _, conv := range existing {
		if conv.HasParticipant(other) {
			return conv.ID, nil
		}
	}

	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		Participants: []domainchat.UserID{self, other},
		ListingID:    listing,
		Now:          r.now(),
	})
	if err != nil {
		return "", precondition(err)
	}
	created, err := r.Conversations.CreateConversation(ctx, conv)
	if err != nil {
		return "", storeUnavailable("create conversation", err)
	}
	if r.Logger != nil {
		r.Logger.Info("conversation created", "conversation_id", created.ID, "user_id", self, "listing_id", created.ListingID)
	}
	r.Events.record(ctx, domainchat.ConversationCreated{
		ConversationID: created.ID,
		Participants:   append([]domainchat.UserID(nil), created.Participants...),
		ListingID:      created.ListingID,
		At:             created.CreatedAt,
	})
	return created.ID, nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
