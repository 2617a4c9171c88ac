package ginserver

import (
	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
)

func toChatUser(id domainchat.UserID, name, avatar string) dto.ChatUser {
	return dto.ChatUser{ID: string(id), Name: name, Avatar: avatar}
}

func toChatMessage(m domainchat.Message) dto.ChatMessage {
	return dto.ChatMessage{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		Text:           m.Text,
		Sender:         toChatUser(m.Sender.ID, m.Sender.Name, m.Sender.Avatar),
		Image:          m.Image,
		System:         m.System,
		CreatedAt:      m.CreatedAt,
	}
}

func toChatMessages(messages []domainchat.Message) []dto.ChatMessage {
	out := make([]dto.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, toChatMessage(m))
	}
	return out
}

func toSummary(s domainchat.Summary) dto.ConversationSummary {
	item := dto.ConversationSummary{
		ID:           string(s.ConversationID),
		Other:        toChatUser(s.Other.ID, s.Other.Name, s.Other.Avatar),
		ListingID:    string(s.ListingID),
		ListingTitle: s.ListingTitle,
		UnreadCount:  s.UnreadCount,
		UnreadBadge:  domainchat.UnreadBadge(s.UnreadCount),
		UpdatedAt:    s.UpdatedAt,
	}
	if s.LastMessage != nil {
		item.LastMessage = &dto.LastMessage{
			Text:      s.LastMessage.Text,
			Sender:    toChatUser(s.LastMessage.Sender.ID, s.LastMessage.Sender.Name, s.LastMessage.Sender.Avatar),
			CreatedAt: s.LastMessage.CreatedAt,
		}
	}
	if !s.LastMessageTime.IsZero() {
		at := s.LastMessageTime
		item.LastMessageAt = &at
	}
	return item
}

func toSummaries(summaries []domainchat.Summary) []dto.ConversationSummary {
	out := make([]dto.ConversationSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toSummary(s))
	}
	return out
}

// latest hands the newest value from a view's pump goroutine to the
// connection writer. A value the writer has not taken yet is replaced,
// folded in with merge when set. Single producer only.
type latest[T any] struct {
	ch    chan T
	merge func(older, newer T) T
}

func newLatest[T any](merge func(older, newer T) T) *latest[T] {
	return &latest[T]{ch: make(chan T, 1), merge: merge}
}

func (l *latest[T]) put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case older := <-l.ch:
			if l.merge != nil {
				v = l.merge(older, v)
			}
		default:
		}
	}
}

func mergeChatFrames(older, newer dto.ChatStreamFrame) dto.ChatStreamFrame {
	newer.Added += older.Added
	newer.ScrollToLatest = newer.ScrollToLatest || older.ScrollToLatest
	return newer
}
