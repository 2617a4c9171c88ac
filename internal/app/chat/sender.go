package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	domainchat "marketchat/internal/domain/chat"
)

// Outgoing is a message the caller wants to send. Key identifies the send
// attempt; a retry with the same key returns the original message.
type Outgoing struct {
	Key          string
	Text         string
	Sender       domainchat.Sender
	Image        string
	System       bool
	ListingID    domainchat.ListingID
	ListingTitle string
}

// SendResult describes an appended message. Warning wraps
// domainchat.ErrMetadataUpdateFailed when the conversation metadata could not
// be refreshed; the message is sent regardless and must not be re-sent.
type SendResult struct {
	Message  domainchat.Message
	Warning  error
	Fallback bool
}

func (r SendResult) MessageID() domainchat.MessageID { return r.Message.ID }

// MessageSender owns the append-then-update write of a message.
type MessageSender struct {
	Conversations ConversationStore
	Log           MessageLog
	Events        *EventSink
	Metrics       Metrics
	Logger        *slog.Logger
	NewKey        func() string
}

// Send appends the message and then refreshes the conversation's last
// message cache. The two steps are not atomic. A transient append failure is
// retried once through the direct path with the same draft key, so the
// message is stored at most once.
func (s *MessageSender) Send(ctx context.Context, id domainchat.ConversationID, out Outgoing) (SendResult, error) {
	self, err := requireUser(ctx)
	if err != nil {
		return SendResult{}, err
	}
	id = domainchat.ConversationID(strings.TrimSpace(string(id)))
	if id == "" {
		return SendResult{}, precondition(domainchat.ErrConversationNotFound)
	}
	sender := out.Sender
	if strings.TrimSpace(string(sender.ID)) == "" {
		sender.ID = self
	}
	if sender.ID != self {
		return SendResult{}, precondition(fmt.Errorf("sender %q is not the caller", sender.ID))
	}
	draft, err := domainchat.NewDraft(domainchat.DraftParams{
		Key:    out.Key,
		Text:   out.Text,
		Sender: sender,
		Image:  out.Image,
		System: out.System,
	})
	if err != nil {
		return SendResult{}, precondition(err)
	}
	if draft.Key == "" {
		draft.Key = s.newKey()
	}
	if s.Conversations == nil || s.Log == nil {
		return SendResult{}, s.failed(storeUnavailable("send message", errors.New("message store not configured")))
	}

	conv, err := s.Conversations.Conversation(ctx, id)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return SendResult{}, precondition(err)
		}
		return SendResult{}, s.failed(storeUnavailable("load conversation", err))
	}
	if !conv.HasParticipant(self) {
		return SendResult{}, precondition(domainchat.ErrNotParticipant)
	}

	result := SendResult{}
	msg, err := s.Log.AppendMessage(ctx, id, draft)
	if err != nil && domainchat.IsTransient(err) {
		if s.Logger != nil {
			s.Logger.Warn("append failed, retrying direct", "conversation_id", id, "draft_key", draft.Key, "error", err)
		}
		result.Fallback = true
		msg, err = s.Log.AppendMessageDirect(ctx, id, draft)
	}
	if err != nil {
		return SendResult{}, s.failed(storeUnavailable("append message", err))
	}
	result.Message = msg
	s.metrics().MessageSent(result.Fallback)

	recipients := make([]domainchat.UserID, 0, 1)
	for _, p := range conv.Participants {
		if p != self {
			recipients = append(recipients, p)
		}
	}
	listing := out.ListingID
	if listing == "" {
		listing = conv.ListingID
	}
	s.Events.record(ctx, domainchat.MessageSent{
		ConversationID: id,
		MessageID:      msg.ID,
		SenderID:       msg.Sender.ID,
		SenderName:     msg.Sender.Name,
		Recipients:     recipients,
		Text:           msg.Text,
		ListingID:      listing,
		At:             msg.CreatedAt,
	})

	update := domainchat.MetaUpdate{
		LastMessage:     msg.Snapshot(),
		LastMessageTime: msg.CreatedAt,
		UpdatedAt:       msg.CreatedAt,
		ListingID:       domainchat.ListingID(strings.TrimSpace(string(out.ListingID))),
		ListingTitle:    strings.TrimSpace(out.ListingTitle),
	}
	if err := s.Conversations.UpdateConversationMeta(ctx, id, update); err != nil {
		result.Warning = fmt.Errorf("%w: %w", domainchat.ErrMetadataUpdateFailed, err)
		s.metrics().MetadataUpdateFailed()
		if s.Logger != nil {
			s.Logger.Warn("conversation metadata not updated", "conversation_id", id, "message_id", msg.ID, "error", err)
		}
	}
	return result, nil
}

func (s *MessageSender) failed(err error) error {
	s.metrics().SendFailed()
	return fmt.Errorf("%w: %w", domainchat.ErrSendFailed, err)
}

func (s *MessageSender) newKey() string {
	if s.NewKey != nil {
		return s.NewKey()
	}
	return uuid.NewString()
}

func (s *MessageSender) metrics() Metrics {
	return metricsOrNop(s.Metrics)
}
